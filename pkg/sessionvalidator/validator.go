// Package sessionvalidator verifies AnimalPlace access tokens carried in the
// Authorization header and exposes gin middleware for session and role checks.
package sessionvalidator

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures the Validator. Leeway tolerates clock skew on exp, nbf, and iat.
type Config struct {
	SigningKey []byte
	Issuer     string
	Leeway     time.Duration
	Clock      Clock
}

// DefaultContextKey is used when a middleware is given an empty key.
const DefaultContextKey = "animalplace_claims"

var (
	ErrMissingSigningKey = errors.New("sessionvalidator.config.missing_signing_key")
	ErrMissingIssuer     = errors.New("sessionvalidator.config.missing_issuer")
	ErrMissingToken      = errors.New("sessionvalidator.token.missing")
	ErrMalformedHeader   = errors.New("sessionvalidator.header.malformed")
	ErrInvalidToken      = errors.New("sessionvalidator.token.invalid")
	ErrInvalidIssuer     = errors.New("sessionvalidator.token.invalid_issuer")
	ErrTokenExpired      = errors.New("sessionvalidator.token.expired")
	ErrTokenNotYetValid  = errors.New("sessionvalidator.token.not_yet_valid")
)

// Claims identify the signed-in account. The account id travels as the JWT subject.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID returns the subject, or "" for nil claims.
func (claims *Claims) UserID() string {
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// HasRole reports whether the claims carry one of roles (case-insensitive).
func (claims *Claims) HasRole(roles ...string) bool {
	if claims == nil {
		return false
	}
	return slices.ContainsFunc(roles, func(role string) bool {
		return strings.EqualFold(strings.TrimSpace(role), claims.Role)
	})
}

// Expiry returns the exp claim or the zero time.
func (claims *Claims) Expiry() time.Time {
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Validator verifies HS256 access tokens issued by one issuer.
type Validator struct {
	signingKey []byte
	parser     *jwt.Parser
}

// New validates configuration and builds a Validator.
func New(configuration Config) (*Validator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("sessionvalidator.new: %w", ErrMissingSigningKey)
	}
	issuer := strings.TrimSpace(configuration.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("sessionvalidator.new: %w", ErrMissingIssuer)
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Validator{
		signingKey: configuration.SigningKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(configuration.Leeway),
			jwt.WithTimeFunc(clock.Now),
		),
	}, nil
}

// Parse verifies tokenString and returns its claims.
func (validator *Validator) Parse(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("sessionvalidator.parse: %w", ErrMissingToken)
	}
	claims := &Claims{}
	_, err := validator.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return validator.signingKey, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("sessionvalidator.parse: %w", ErrTokenExpired)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return nil, fmt.Errorf("sessionvalidator.parse: %w", ErrTokenNotYetValid)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return nil, fmt.Errorf("sessionvalidator.parse: %w", ErrInvalidIssuer)
	default:
		return nil, fmt.Errorf("sessionvalidator.parse: %w: %w", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("sessionvalidator.parse: %w: empty subject", ErrInvalidToken)
	}
	return claims, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(request *http.Request) (string, error) {
	if request == nil {
		return "", ErrMissingToken
	}
	header := strings.TrimSpace(request.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMalformedHeader
	}
	return strings.TrimSpace(token), nil
}

// Authenticate verifies the bearer token of request.
func (validator *Validator) Authenticate(request *http.Request) (*Claims, error) {
	token, err := BearerToken(request)
	if err != nil {
		return nil, fmt.Errorf("sessionvalidator.authenticate: %w", err)
	}
	return validator.Parse(token)
}

// RequireSession rejects requests without a valid bearer token with 401 and
// stores the claims under contextKey otherwise.
func (validator *Validator) RequireSession(contextKey string) gin.HandlerFunc {
	contextKey = contextKeyOrDefault(contextKey)
	return func(contextGin *gin.Context) {
		claims, err := validator.Authenticate(contextGin.Request)
		if err != nil {
			code := "unauthorized"
			if errors.Is(err, ErrTokenExpired) {
				code = "token_expired"
			}
			abort(contextGin, http.StatusUnauthorized, code, "Unauthorized")
			return
		}
		contextGin.Set(contextKey, claims)
		contextGin.Next()
	}
}

// RequireRole must run after RequireSession with the same key. Requests whose
// claims carry none of roles are rejected with 403.
func RequireRole(contextKey string, roles ...string) gin.HandlerFunc {
	contextKey = contextKeyOrDefault(contextKey)
	return func(contextGin *gin.Context) {
		claims := ClaimsFrom(contextGin, contextKey)
		if claims == nil {
			abort(contextGin, http.StatusUnauthorized, "unauthorized", "Unauthorized")
			return
		}
		if !claims.HasRole(roles...) {
			abort(contextGin, http.StatusForbidden, "forbidden", "You do not have permission to perform this action")
			return
		}
		contextGin.Next()
	}
}

// ClaimsFrom returns the claims stored by RequireSession, or nil.
func ClaimsFrom(contextGin *gin.Context, contextKey string) *Claims {
	value, exists := contextGin.Get(contextKeyOrDefault(contextKey))
	if !exists {
		return nil
	}
	claims, _ := value.(*Claims)
	return claims
}

func contextKeyOrDefault(contextKey string) string {
	if strings.TrimSpace(contextKey) == "" {
		return DefaultContextKey
	}
	return contextKey
}

func abort(contextGin *gin.Context, status int, code string, message string) {
	contextGin.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"code":    code,
		"message": message,
	})
}
