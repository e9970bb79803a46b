package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/animalplace/internal/apiclient"
	"github.com/tyemirov/animalplace/internal/sessionpg"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

const (
	devFallbackBaseURL = "http://localhost:3000"
	sessionStoreMemory = "memory"

	configCodeMissingAPIBaseURL       = "config.missing_api_base_url"
	configCodeInvalidAPIBaseURL       = "config.invalid_api_base_url"
	configCodeInvalidRequestTimeout   = "config.invalid_request_timeout"
	configCodeInvalidUploadTimeout    = "config.invalid_upload_timeout"
	configCodeUninitializedClientConf = "config.uninitialized_client_config"
	configCodeSessionStore            = "config.session_store"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "apadmin",
		Short:             "AnimalPlace admin client with token refresh, resource management, and report uploads",
		SilenceUsage:      true,
		PersistentPreRunE: prepareClientConfig,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("api_base_url", "", "AnimalPlace API base URL, e.g. https://api.animalplace.example")
	flags.Bool("dev_mode", false, "Allow the local development API fallback when api_base_url is empty")
	flags.String("session_store", "", "Session store: memory, sqlite://<path>, or postgres://<url> (default: sqlite file in the user config dir)")
	flags.String("profile", "default", "Session namespace inside the session store")
	flags.Duration("request_timeout", 0, "Timeout for JSON requests; 0 disables it")
	flags.Duration("upload_timeout", 5*time.Minute, "Timeout for multipart uploads")
	flags.Bool("debug", false, "Enable development logging")

	for _, name := range []string{"api_base_url", "dev_mode", "session_store", "profile", "request_timeout", "upload_timeout", "debug"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newLoginCommand(),
		newVerifyCommand(),
		newLogoutCommand(),
		newWhoAmICommand(),
		newResourceCommand(),
		newReportsCommand(),
		newOverviewCommand(),
		newMockServerCommand(),
	)
	return rootCmd
}

// ClientConfig is the resolved CLI configuration.
type ClientConfig struct {
	BaseURL        string
	DevFallback    bool
	SessionStore   string
	Profile        string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	Debug          bool
}

type contextKey string

const clientConfigContextKey contextKey = "clientConfig"

func prepareClientConfig(command *cobra.Command, arguments []string) error {
	clientConfig, loadErr := LoadClientConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, clientConfigContextKey, clientConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadClientConfig reads the viper-bound flags and environment. A missing base
// URL is fatal unless dev_mode is set.
func LoadClientConfig() (ClientConfig, error) {
	baseURL := strings.TrimSpace(viper.GetString("api_base_url"))
	devFallback := false
	if baseURL == "" {
		if !viper.GetBool("dev_mode") {
			return ClientConfig{}, configError(configCodeMissingAPIBaseURL, "api_base_url must be provided (or set dev_mode for "+devFallbackBaseURL+")")
		}
		baseURL = devFallbackBaseURL
		devFallback = true
	}
	parsed, parseErr := apiclient.ParseBaseURL(baseURL)
	if parseErr != nil {
		return ClientConfig{}, configError(configCodeInvalidAPIBaseURL, parseErr.Error())
	}

	requestTimeout := viper.GetDuration("request_timeout")
	if requestTimeout < 0 {
		return ClientConfig{}, configError(configCodeInvalidRequestTimeout, "request_timeout must not be negative")
	}
	uploadTimeout := viper.GetDuration("upload_timeout")
	if uploadTimeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidUploadTimeout, "upload_timeout must be greater than zero")
	}

	profile := strings.TrimSpace(viper.GetString("profile"))
	if profile == "" {
		profile = "default"
	}

	return ClientConfig{
		BaseURL:        parsed.String(),
		DevFallback:    devFallback,
		SessionStore:   strings.TrimSpace(viper.GetString("session_store")),
		Profile:        profile,
		RequestTimeout: requestTimeout,
		UploadTimeout:  uploadTimeout,
		Debug:          viper.GetBool("debug"),
	}, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// session bundles what a client subcommand needs for one invocation.
type session struct {
	logger    *zap.Logger
	client    *apiclient.Client
	navigator *terminalNavigator
	release   func() error
}

func (current *session) Close() {
	if err := current.release(); err != nil {
		current.logger.Warn("session store close failed",
			zap.String("code", "apadmin.session_store.close"),
			zap.Error(err))
	}
	_ = current.logger.Sync()
}

func openSession(command *cobra.Command) (*session, error) {
	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(clientConfigContextKey)
	}
	clientConfig, ok := contextValue.(ClientConfig)
	if !ok {
		return nil, configError(configCodeUninitializedClientConf, "client configuration not prepared; PersistentPreRunE must execute before RunE")
	}

	logger, loggerErr := newLogger(clientConfig.Debug)
	if loggerErr != nil {
		return nil, loggerErr
	}
	if clientConfig.DevFallback {
		logger.Warn("api_base_url not set; using development fallback",
			zap.String("code", "config.dev_fallback"),
			zap.String("api_base_url", clientConfig.BaseURL))
	}

	store, release, storeErr := openSessionStore(commandContext, clientConfig.SessionStore, clientConfig.Profile)
	if storeErr != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("%s: %w", configCodeSessionStore, storeErr)
	}

	navigator := newTerminalNavigator(command, logger)
	client, clientErr := apiclient.New(apiclient.Config{
		BaseURL:  clientConfig.BaseURL,
		Sessions: store,
		Redirector: apiclient.NewSessionRedirector(apiclient.RedirectorConfig{
			Navigator: navigator,
			Scheduler: inlineScheduler{},
			Logger:    logger,
		}),
		Timeout:       clientConfig.RequestTimeout,
		UploadTimeout: clientConfig.UploadTimeout,
		Logger:        logger,
	})
	if clientErr != nil {
		_ = release()
		_ = logger.Sync()
		return nil, clientErr
	}
	return &session{logger: logger, client: client, navigator: navigator, release: release}, nil
}

func openSessionStore(ctx context.Context, location string, profile string) (apiclient.SessionRepository, func() error, error) {
	noop := func() error { return nil }
	switch {
	case location == sessionStoreMemory:
		return apiclient.NewMemorySessionStore(apiclient.Credentials{}), noop, nil
	case strings.HasPrefix(location, "postgres://"), strings.HasPrefix(location, "postgresql://"):
		store, err := sessionpg.Open(ctx, location, profile)
		if err != nil {
			return nil, noop, err
		}
		return store, func() error { store.Close(); return nil }, nil
	case location == "":
		defaultLocation, err := defaultSessionStoreLocation()
		if err != nil {
			return nil, noop, err
		}
		location = defaultLocation
	}
	store, err := apiclient.NewDatabaseSessionStore(ctx, location, profile)
	if err != nil {
		return nil, noop, err
	}
	return store, store.Close, nil
}

func defaultSessionStoreLocation() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	storeDir := filepath.Join(configDir, "apadmin")
	if err := os.MkdirAll(storeDir, 0o700); err != nil {
		return "", err
	}
	return "sqlite://" + filepath.ToSlash(filepath.Join(storeDir, "session.db")), nil
}
