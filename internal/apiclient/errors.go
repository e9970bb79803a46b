package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// FallbackUserMessage is shown when an error carries no server-supplied message.
	FallbackUserMessage = "Something went wrong. Please try again."
	// UploadTimeoutMessage is shown when a multipart upload exceeds its timeout.
	UploadTimeoutMessage = "Upload timed out after 5 minutes. Please try again with a smaller file or a faster connection."
	// UploadNetworkMessage is shown when a multipart upload fails before the server answered.
	UploadNetworkMessage = "Network error during upload. Check your connection and try again."

	maxErrorBodyBytes = 64 << 10
)

var (
	// ErrMissingBaseURL indicates that no API base URL was configured.
	ErrMissingBaseURL = errors.New("apiclient.config.missing_base_url")
	// ErrInvalidBaseURL indicates that the API base URL is not an absolute http(s) URL.
	ErrInvalidBaseURL = errors.New("apiclient.config.invalid_base_url")
	// ErrMissingSessionRepository indicates that the client was built without a token store.
	ErrMissingSessionRepository = errors.New("apiclient.config.missing_session_repository")
	// ErrRefreshRejected indicates that the refresh exchange answered with success=false.
	ErrRefreshRejected = errors.New("apiclient.refresh.rejected")
	// ErrSessionEnded indicates that the server no longer recognises the stored session.
	ErrSessionEnded = errors.New("apiclient.session.ended")
	// ErrUnsuccessfulResponse indicates a 2xx response whose envelope reported success=false.
	ErrUnsuccessfulResponse = errors.New("apiclient.response.unsuccessful")
	// ErrUploadTimeout indicates that a multipart upload exceeded its timeout.
	ErrUploadTimeout = errors.New("apiclient.upload.timeout")
	// ErrUploadNetwork indicates that a multipart upload failed in transport.
	ErrUploadNetwork = errors.New("apiclient.upload.network")
)

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Method     string
	Path       string
	Err        error
}

func (apiError *APIError) Error() string {
	if apiError.Message != "" {
		return fmt.Sprintf("apiclient.status.%d: %s %s: %s", apiError.StatusCode, apiError.Method, apiError.Path, apiError.Message)
	}
	return fmt.Sprintf("apiclient.status.%d: %s %s", apiError.StatusCode, apiError.Method, apiError.Path)
}

func (apiError *APIError) Unwrap() error {
	return apiError.Err
}

// IsUnauthorized reports whether err is an APIError carrying HTTP 401.
func IsUnauthorized(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusUnauthorized
}

// UserMessage returns the text a caller should surface in a notification.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrUploadTimeout) {
		return UploadTimeoutMessage
	}
	if errors.Is(err, ErrUploadNetwork) {
		return UploadNetworkMessage
	}
	var apiError *APIError
	if errors.As(err, &apiError) && strings.TrimSpace(apiError.Message) != "" {
		return apiError.Message
	}
	return FallbackUserMessage
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// newAPIError consumes and closes the response body.
func newAPIError(response *http.Response) *APIError {
	apiError := &APIError{StatusCode: response.StatusCode}
	if response.Request != nil {
		apiError.Method = response.Request.Method
		if response.Request.URL != nil {
			apiError.Path = response.Request.URL.Path
		}
	}
	defer func() { _ = response.Body.Close() }()
	payload, readErr := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	if readErr != nil || len(payload) == 0 {
		return apiError
	}
	var decoded errorBody
	if json.Unmarshal(payload, &decoded) != nil {
		return apiError
	}
	apiError.Message = decoded.Message
	if apiError.Message == "" {
		apiError.Message = decoded.Error
	}
	apiError.Code = decoded.Code
	return apiError
}

func isTimeout(ctx context.Context, parent context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil
}
