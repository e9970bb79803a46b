package mockapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errEmptyAllowedOrigins = errors.New("cors: no explicit origins provided")
	errInvalidOrigin       = errors.New("cors: invalid origin format")
)

// ConfigureCORS lets a browser dashboard served from allowedOrigins call the mock API.
// Tokens travel in the Authorization header, so credentials stay disabled and "*" is accepted.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config := cors.Config{
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders:  []string{"Authorization", "Content-Type", "ngrok-skip-browser-warning"},
		ExposeHeaders: []string{"Content-Type"},
		MaxAge:        12 * time.Hour,
	}
	if slices.ContainsFunc(allowedOrigins, func(origin string) bool { return strings.TrimSpace(origin) == "*" }) {
		logger.Warn("cors allows every origin", zap.String("code", "cors.origin.wildcard"))
		config.AllowAllOrigins = true
		return cors.New(config), nil
	}
	origins, err := sanitizeOrigins(logger, allowedOrigins)
	if err != nil {
		return nil, err
	}
	config.AllowOrigins = origins
	return cors.New(config), nil
}

// sanitizeOrigins normalizes to scheme://host[:port] and drops duplicates, keeping input order.
func sanitizeOrigins(logger *zap.Logger, allowed []string) ([]string, error) {
	origins := make([]string, 0, len(allowed))
	for _, raw := range allowed {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		origin, insecure, err := normalizeOrigin(raw)
		if err != nil {
			return nil, err
		}
		if slices.Contains(origins, origin) {
			continue
		}
		if insecure {
			logger.Warn("unsafe cors origin configured",
				zap.String("code", "cors.origin.unsafe"),
				zap.String("origin", origin))
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		return nil, errEmptyAllowedOrigins
	}
	return origins, nil
}

// normalizeOrigin reports plain http to anything but a loopback host as insecure.
func normalizeOrigin(raw string) (string, bool, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return "", false, fmt.Errorf("%w: %s", errInvalidOrigin, trimmed)
	}
	if strings.Trim(parsed.Path, "/") != "" || parsed.RawQuery != "" {
		return "", false, fmt.Errorf("%w: %s contains path segment", errInvalidOrigin, trimmed)
	}
	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "https":
		return scheme + "://" + strings.ToLower(parsed.Host), false, nil
	case "http":
		return scheme + "://" + strings.ToLower(parsed.Host), !isLoopbackHost(parsed.Hostname()), nil
	default:
		return "", false, fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, trimmed)
	}
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
