package apiclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultUploadTimeout = 5 * time.Minute
	// defaultRefreshTimeout bounds the exchange when JSON requests run without a timeout.
	defaultRefreshTimeout = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL       string
	Sessions      SessionRepository
	Redirector    *SessionRedirector
	Transport     http.RoundTripper
	Timeout       time.Duration
	UploadTimeout time.Duration
	Logger        *zap.Logger
	Metrics       MetricsRecorder
}

func (configuration Config) withDefaults() Config {
	if configuration.Transport == nil {
		configuration.Transport = http.DefaultTransport
	}
	if configuration.Timeout < 0 {
		configuration.Timeout = 0
	}
	if configuration.UploadTimeout <= 0 {
		configuration.UploadTimeout = defaultUploadTimeout
	}
	if configuration.Logger == nil {
		configuration.Logger = zap.NewNop()
	}
	if configuration.Metrics == nil {
		configuration.Metrics = noopMetrics{}
	}
	return configuration
}

// ParseBaseURL validates an absolute http(s) API base URL and strips trailing slashes.
func ParseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return nil, ErrMissingBaseURL
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBaseURL, trimmed)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBaseURL, trimmed)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return nil, fmt.Errorf("%w: %s contains query or fragment", ErrInvalidBaseURL, trimmed)
	}
	return parsed, nil
}
