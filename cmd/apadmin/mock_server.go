package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/animalplace/internal/apiclient"
	"github.com/tyemirov/animalplace/internal/mockapi"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

const (
	configCodeMissingJWTSigningKey = "config.missing_jwt_signing_key"
	configCodeInvalidAccessTTL     = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL    = "config.invalid_refresh_ttl"
	configCodeSeedAdmin            = "config.seed_admin"
)

// MockServerConfig configures "apadmin mock-server".
type MockServerConfig struct {
	ListenAddr         string
	SigningKey         []byte
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	CORSAllowedOrigins []string
	SeedAdminName      string
	SeedAdminEmail     string
	SeedAdminPassword  string
	Debug              bool
}

func newMockServerCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "mock-server",
		Short: "Run an in-memory AnimalPlace backend for development",
		Args:  cobra.NoArgs,
		// Overrides the root hook: the mock server needs no API base URL.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE:              runMockServer,
	}
	flags := command.Flags()
	flags.String("listen_addr", ":3000", "HTTP listen address")
	flags.String("jwt_signing_key", "", "HS256 signing secret for access tokens")
	flags.Duration("access_ttl", 15*time.Minute, "Access token TTL")
	flags.Duration("refresh_ttl", 7*24*time.Hour, "Refresh token TTL")
	flags.StringSlice("cors_allowed_origins", []string{}, "Dashboard origins allowed by CORS; empty disables CORS")
	flags.String("seed_admin_name", "Admin", "Name of the seeded admin account")
	flags.String("seed_admin_email", "", "Email of a verified admin account created at startup")
	flags.String("seed_admin_password", "", "Password of the seeded admin account")

	for _, name := range []string{"listen_addr", "jwt_signing_key", "access_ttl", "refresh_ttl", "cors_allowed_origins", "seed_admin_name", "seed_admin_email", "seed_admin_password"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	return command
}

// LoadMockServerConfig reads the mock-server flags and environment.
func LoadMockServerConfig() (MockServerConfig, error) {
	signingKey := viper.GetString("jwt_signing_key")
	if signingKey == "" {
		return MockServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}
	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return MockServerConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}
	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return MockServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}
	seedEmail := strings.TrimSpace(viper.GetString("seed_admin_email"))
	seedPassword := viper.GetString("seed_admin_password")
	if seedEmail != "" && seedPassword == "" {
		return MockServerConfig{}, configError(configCodeSeedAdmin, "seed_admin_password must be provided with seed_admin_email")
	}
	listenAddr := viper.GetString("listen_addr")
	if listenAddr == "" {
		listenAddr = ":3000"
	}
	return MockServerConfig{
		ListenAddr:         listenAddr,
		SigningKey:         []byte(signingKey),
		AccessTTL:          accessTTL,
		RefreshTTL:         refreshTTL,
		CORSAllowedOrigins: viper.GetStringSlice("cors_allowed_origins"),
		SeedAdminName:      viper.GetString("seed_admin_name"),
		SeedAdminEmail:     seedEmail,
		SeedAdminPassword:  seedPassword,
		Debug:              viper.GetBool("debug"),
	}, nil
}

func runMockServer(command *cobra.Command, arguments []string) error {
	mockConfig, configErr := LoadMockServerConfig()
	if configErr != nil {
		return configErr
	}
	logger, loggerErr := newLogger(mockConfig.Debug)
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	server, buildErr := buildMockServer(mockConfig, logger)
	if buildErr != nil {
		return buildErr
	}

	httpServer := &http.Server{
		Addr:              mockConfig.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := httpServer.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("mock backend listening", zap.String("addr", mockConfig.ListenAddr))
	if err := serveHTTP(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func buildMockServer(mockConfig MockServerConfig, logger *zap.Logger) (*mockapi.Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, metricsErr := apiclient.NewPrometheusMetrics(registry, "animalplace_mock")
	if metricsErr != nil {
		return nil, metricsErr
	}

	server, serverErr := mockapi.NewServer(mockapi.Options{
		Config: mockapi.Config{
			SigningKey:     mockConfig.SigningKey,
			AccessTTL:      mockConfig.AccessTTL,
			RefreshTTL:     mockConfig.RefreshTTL,
			AllowedOrigins: mockConfig.CORSAllowedOrigins,
		},
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: registry,
	})
	if serverErr != nil {
		return nil, serverErr
	}

	if mockConfig.SeedAdminEmail != "" {
		account, seedErr := server.Accounts().Register(mockConfig.SeedAdminName, mockConfig.SeedAdminEmail, mockConfig.SeedAdminPassword, "admin", true)
		if seedErr != nil {
			return nil, fmt.Errorf("%s: %w", configCodeSeedAdmin, seedErr)
		}
		logger.Info("seeded admin account",
			zap.String("code", "apadmin.mock.seeded"),
			zap.String("user_id", account.ID),
			zap.String("email", account.Email))
	}
	return server, nil
}
