package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	signInPath       = "/api/auth/login"
	verifyCodePath   = "/api/auth/verify-code"
	sessionCheckPath = "/api/auth/session"
	signOutPath      = "/auth/logout"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type signInResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

type sessionStatus struct {
	Authenticated bool `json:"authenticated"`
	User          User `json:"user"`
}

// SignIn exchanges email and password for a session and stores it.
func (client *Client) SignIn(ctx context.Context, email string, password string) (Credentials, error) {
	return client.establishSession(ctx, signInPath, signInRequest{Email: strings.TrimSpace(email), Password: password})
}

// VerifyCode exchanges an emailed verification code for a session and stores it.
func (client *Client) VerifyCode(ctx context.Context, email string, code string) (Credentials, error) {
	return client.establishSession(ctx, verifyCodePath, verifyCodeRequest{Email: strings.TrimSpace(email), Code: strings.TrimSpace(code)})
}

func (client *Client) establishSession(ctx context.Context, path string, body any) (Credentials, error) {
	var payload signInResponse
	if err := client.PostJSON(ctx, path, body, &payload); err != nil {
		return Credentials{}, err
	}
	credentials := Credentials{
		AccessToken:  payload.Token,
		RefreshToken: payload.RefreshToken,
		User:         payload.User,
	}
	if strings.TrimSpace(credentials.AccessToken) == "" || !credentials.Authenticated() {
		return Credentials{}, fmt.Errorf("apiclient.sign_in: %w", ErrUnsuccessfulResponse)
	}
	if err := client.sessions.Save(ctx, credentials); err != nil {
		return Credentials{}, fmt.Errorf("apiclient.sign_in.save: %w", err)
	}
	client.logger.Info("signed in",
		zap.String("code", "apiclient.sign_in.succeeded"),
		zap.String("user_id", credentials.User.ID))
	return credentials, nil
}

// SignOut notifies the server on a best-effort basis and always clears the token store.
func (client *Client) SignOut(ctx context.Context) error {
	request, err := client.NewRequest(ctx, http.MethodPost, signOutPath, nil, nil)
	if err == nil {
		response, sendErr := client.httpClient.Do(request)
		if sendErr == nil {
			_ = response.Body.Close()
		} else {
			client.logger.Debug("logout call failed; ignoring",
				zap.String("code", "apiclient.sign_out.ignored"),
				zap.Error(sendErr))
		}
	}
	if clearErr := client.sessions.Clear(ctx); clearErr != nil {
		return fmt.Errorf("apiclient.sign_out.clear: %w", clearErr)
	}
	return nil
}

// CheckSession asks the server whether the stored session is still valid.
// A negative answer clears the token store and returns ErrSessionEnded.
func (client *Client) CheckSession(ctx context.Context) (User, error) {
	credentials, err := client.sessions.Load(ctx)
	if err != nil {
		return User{}, fmt.Errorf("apiclient.session_check.load: %w", err)
	}
	if !credentials.Authenticated() {
		return User{}, ErrSessionEnded
	}
	var status sessionStatus
	checkErr := client.GetJSON(ctx, sessionCheckPath, nil, &status)
	if checkErr != nil && !IsUnauthorized(checkErr) {
		return User{}, checkErr
	}
	if checkErr == nil && status.Authenticated && status.User.ID == credentials.User.ID {
		return status.User, nil
	}
	if clearErr := client.sessions.Clear(ctx); clearErr != nil {
		return User{}, fmt.Errorf("apiclient.session_check.clear: %w", clearErr)
	}
	client.logger.Info("server reported session as ended",
		zap.String("code", "apiclient.session_check.ended"),
		zap.String("user_id", credentials.User.ID))
	return User{}, ErrSessionEnded
}

// AccessTokenExpiry reads the exp claim of an access token without verifying its signature.
func AccessTokenExpiry(accessToken string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("apiclient.token.parse: %w", err)
	}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("apiclient.token.exp: %w", err)
	}
	if expiresAt == nil {
		return time.Time{}, nil
	}
	return expiresAt.Time, nil
}
