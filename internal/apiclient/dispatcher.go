package apiclient

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	// headerTunnelBypass suppresses the interstitial page of the development tunnel proxy.
	headerTunnelBypass = "ngrok-skip-browser-warning"

	contentTypeJSON = "application/json"
)

// dispatcher attaches the fixed header pair and, when present, the bearer token.
// It never fails on its own: a token store error yields an unauthenticated request.
type dispatcher struct {
	base     http.RoundTripper
	sessions SessionRepository
	logger   *zap.Logger
}

func (transport *dispatcher) RoundTrip(request *http.Request) (*http.Response, error) {
	outbound := request.Clone(request.Context())
	outbound.Header.Set(headerContentType, contentTypeJSON)
	outbound.Header.Set(headerTunnelBypass, "true")

	credentials, loadErr := transport.sessions.Load(request.Context())
	if loadErr != nil {
		transport.logger.Warn("token store read failed; sending unauthenticated request",
			zap.String("code", "apiclient.dispatch.token_store"),
			zap.String("path", request.URL.Path),
			zap.Error(loadErr))
	} else if token := strings.TrimSpace(credentials.AccessToken); token != "" {
		outbound.Header.Set(headerAuthorization, "Bearer "+token)
	}
	return transport.base.RoundTrip(outbound)
}
