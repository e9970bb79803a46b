package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const refreshTokenPath = "/api/auth/refresh-token"

// Client issues JSON requests against the AnimalPlace admin API and recovers
// expired sessions through a single-flight refresh exchange.
type Client struct {
	baseURL       *url.URL
	sessions      SessionRepository
	httpClient    *http.Client
	uploadClient  *http.Client
	coordinator   *RefreshCoordinator
	redirector    *SessionRedirector
	timeout       time.Duration
	uploadTimeout time.Duration
	logger        *zap.Logger
	metrics       MetricsRecorder
}

// New validates the configuration and builds a Client.
func New(configuration Config) (*Client, error) {
	baseURL, err := ParseBaseURL(configuration.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("apiclient.new: %w", err)
	}
	if configuration.Sessions == nil {
		return nil, fmt.Errorf("apiclient.new: %w", ErrMissingSessionRepository)
	}
	configuration = configuration.withDefaults()
	return &Client{
		baseURL:  baseURL,
		sessions: configuration.Sessions,
		httpClient: &http.Client{
			Timeout: configuration.Timeout,
			Transport: &dispatcher{
				base:     configuration.Transport,
				sessions: configuration.Sessions,
				logger:   configuration.Logger,
			},
		},
		uploadClient:  &http.Client{Transport: configuration.Transport},
		coordinator:   NewRefreshCoordinator(configuration.Metrics),
		redirector:    configuration.Redirector,
		timeout:       configuration.Timeout,
		uploadTimeout: configuration.UploadTimeout,
		logger:        configuration.Logger,
		metrics:       configuration.Metrics,
	}, nil
}

// BaseURL returns the configured API base URL.
func (client *Client) BaseURL() string {
	return client.baseURL.String()
}

// Session returns the stored credentials.
func (client *Client) Session(ctx context.Context) (Credentials, error) {
	return client.sessions.Load(ctx)
}

// NewRequest builds a request for path relative to the base URL with an optional JSON body.
func (client *Client) NewRequest(ctx context.Context, method string, path string, query url.Values, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("apiclient.encode: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, client.resolve(path, query), reader)
	if err != nil {
		return nil, fmt.Errorf("apiclient.request: %w", err)
	}
	return request, nil
}

// Do sends request. Non-2xx responses are returned as *APIError with the body
// consumed. A 401 on an authenticated session triggers at most one refresh and
// one replay for this request.
func (client *Client) Do(request *http.Request) (*http.Response, error) {
	if err := ensureReplayable(request); err != nil {
		return nil, err
	}
	return client.send(request, false)
}

func (client *Client) send(request *http.Request, retried bool) (*http.Response, error) {
	ctx := request.Context()
	sent := client.storedSession(ctx)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("apiclient.transport: %s %s: %w", request.Method, request.URL.Path, err)
	}
	if response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		return response, nil
	}
	apiError := newAPIError(response)
	if apiError.StatusCode != http.StatusUnauthorized || retried {
		return nil, apiError
	}
	credentials, loadErr := client.sessions.Load(ctx)
	if loadErr != nil || !credentials.Authenticated() {
		return nil, apiError
	}
	// A different account signed in while the request was out; its token must not be reused.
	if credentials.User.ID != sent.User.ID {
		return nil, apiError
	}

	// Only the token that was sent needs refreshing; a refresh or new sign-in may already have replaced it.
	if credentials.AccessToken == "" || credentials.AccessToken == sent.AccessToken {
		leader, refreshErr := client.coordinator.Refresh(ctx, client.exchange)
		if refreshErr != nil {
			if leader {
				client.redirector.Redirect()
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, apiError
		}
	}

	replay, rewindErr := rewind(request)
	if rewindErr != nil {
		return nil, rewindErr
	}
	client.metrics.Increment(metricRequestReplayed)
	return client.send(replay, true)
}

// storedSession reads the credentials the dispatcher is about to attach. A read
// failure yields empty credentials, matching the unauthenticated send.
func (client *Client) storedSession(ctx context.Context) Credentials {
	credentials, err := client.sessions.Load(ctx)
	if err != nil {
		return Credentials{}
	}
	return credentials
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

type tokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// exchange trades the stored refresh token for a new pair. On failure the
// token store is cleared before the outcome is released to waiters.
func (client *Client) exchange(ctx context.Context) error {
	exchangeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), client.refreshTimeout())
	defer cancel()

	err := client.rotateTokens(exchangeCtx)
	if err == nil {
		client.logger.Info("access token refreshed", zap.String("code", "apiclient.refresh.succeeded"))
		return nil
	}
	client.logger.Warn("token refresh failed; clearing session",
		zap.String("code", "apiclient.refresh.failed"),
		zap.Error(err))
	if clearErr := client.sessions.Clear(exchangeCtx); clearErr != nil {
		client.logger.Error("token store clear failed",
			zap.String("code", "apiclient.refresh.clear_failed"),
			zap.Error(clearErr))
	}
	return err
}

// refreshTimeout is the request timeout when one is set, else defaultRefreshTimeout.
func (client *Client) refreshTimeout() time.Duration {
	if client.timeout > 0 {
		return client.timeout
	}
	return defaultRefreshTimeout
}

func (client *Client) rotateTokens(ctx context.Context) error {
	credentials, err := client.sessions.Load(ctx)
	if err != nil {
		return fmt.Errorf("apiclient.refresh.load: %w", err)
	}
	request, err := client.NewRequest(ctx, http.MethodPost, refreshTokenPath, nil, refreshRequest{
		RefreshToken: credentials.RefreshToken,
		UserID:       credentials.User.ID,
	})
	if err != nil {
		return fmt.Errorf("apiclient.refresh: %w", err)
	}
	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("apiclient.refresh.transport: %w", err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("apiclient.refresh: %w", newAPIError(response))
	}
	var pair tokenPair
	if err := decodeEnvelope(response, &pair); err != nil {
		return fmt.Errorf("apiclient.refresh: %w", err)
	}
	if strings.TrimSpace(pair.Token) == "" || strings.TrimSpace(pair.RefreshToken) == "" {
		return fmt.Errorf("apiclient.refresh: %w", ErrRefreshRejected)
	}
	credentials.AccessToken = pair.Token
	credentials.RefreshToken = pair.RefreshToken
	if err := client.sessions.Save(ctx, credentials); err != nil {
		return fmt.Errorf("apiclient.refresh.save: %w", err)
	}
	return nil
}

type responseEnvelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// decodeEnvelope consumes and closes the body, decoding data into out when out is non-nil.
func decodeEnvelope(response *http.Response, out any) error {
	defer func() { _ = response.Body.Close() }()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("apiclient.decode.read: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	var envelope responseEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("apiclient.decode: %w", err)
	}
	if envelope.Success != nil && !*envelope.Success {
		apiError := &APIError{
			StatusCode: response.StatusCode,
			Message:    envelope.Message,
			Err:        ErrUnsuccessfulResponse,
		}
		if response.Request != nil && response.Request.URL != nil {
			apiError.Method = response.Request.Method
			apiError.Path = response.Request.URL.Path
		}
		if strings.HasSuffix(apiError.Path, refreshTokenPath) {
			apiError.Err = ErrRefreshRejected
		}
		return apiError
	}
	if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("apiclient.decode.data: %w", err)
	}
	return nil
}

func (client *Client) doJSON(ctx context.Context, method string, path string, query url.Values, body any, out any) error {
	request, err := client.NewRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	response, err := client.Do(request)
	if err != nil {
		return err
	}
	return decodeEnvelope(response, out)
}

// GetJSON issues a GET and decodes the envelope data into out.
func (client *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	return client.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

// PostJSON issues a POST with a JSON body.
func (client *Client) PostJSON(ctx context.Context, path string, body any, out any) error {
	return client.doJSON(ctx, http.MethodPost, path, nil, body, out)
}

// PutJSON issues a PUT with a JSON body.
func (client *Client) PutJSON(ctx context.Context, path string, body any, out any) error {
	return client.doJSON(ctx, http.MethodPut, path, nil, body, out)
}

// PatchJSON issues a PATCH with a JSON body.
func (client *Client) PatchJSON(ctx context.Context, path string, body any, out any) error {
	return client.doJSON(ctx, http.MethodPatch, path, nil, body, out)
}

// DeleteJSON issues a DELETE.
func (client *Client) DeleteJSON(ctx context.Context, path string, out any) error {
	return client.doJSON(ctx, http.MethodDelete, path, nil, nil, out)
}

func (client *Client) resolve(path string, query url.Values) string {
	resolved := client.baseURL.String() + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		resolved += "?" + query.Encode()
	}
	return resolved
}

func ensureReplayable(request *http.Request) error {
	if request.Body == nil || request.Body == http.NoBody || request.GetBody != nil {
		return nil
	}
	payload, err := io.ReadAll(request.Body)
	_ = request.Body.Close()
	if err != nil {
		return fmt.Errorf("apiclient.request.buffer: %w", err)
	}
	request.Body = io.NopCloser(bytes.NewReader(payload))
	request.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	return nil
}

func rewind(request *http.Request) (*http.Request, error) {
	replay := request.Clone(request.Context())
	if request.GetBody == nil {
		return replay, nil
	}
	body, err := request.GetBody()
	if err != nil {
		return nil, fmt.Errorf("apiclient.request.rewind: %w", err)
	}
	replay.Body = body
	return replay, nil
}
