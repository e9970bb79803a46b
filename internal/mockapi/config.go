package mockapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/animalplace/pkg/sessionvalidator"
)

var (
	errMissingSigningKey = errors.New("mockapi.config.missing_signing_key")
	errInvalidAccessTTL  = errors.New("mockapi.config.invalid_access_ttl")
	errInvalidRefreshTTL = errors.New("mockapi.config.invalid_refresh_ttl")
)

// Config configures token issuance for the mock backend.
type Config struct {
	SigningKey     []byte
	Issuer         string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	CodeTTL        time.Duration
	AllowedOrigins []string
	Clock          sessionvalidator.Clock
}

// DefaultIssuer is stamped into access tokens when Config.Issuer is empty.
const DefaultIssuer = "animalplace-mock"

func (configuration Config) validate() (Config, error) {
	if len(configuration.SigningKey) == 0 {
		return Config{}, fmt.Errorf("mockapi.config: %w", errMissingSigningKey)
	}
	if configuration.AccessTTL <= 0 {
		return Config{}, fmt.Errorf("mockapi.config: %w", errInvalidAccessTTL)
	}
	if configuration.RefreshTTL <= 0 {
		return Config{}, fmt.Errorf("mockapi.config: %w", errInvalidRefreshTTL)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		configuration.Issuer = DefaultIssuer
	}
	if configuration.CodeTTL <= 0 {
		configuration.CodeTTL = 10 * time.Minute
	}
	if configuration.Clock == nil {
		configuration.Clock = systemClock{}
	}
	return configuration, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
