package mockapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/animalplace/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	metricLoginSucceeded   = "mock.login.succeeded"
	metricLoginFailed      = "mock.login.failed"
	metricCodeVerified     = "mock.code.verified"
	metricRefreshRotated   = "mock.refresh.rotated"
	metricRefreshRejected  = "mock.refresh.rejected"
	metricLogout           = "mock.logout"
	metricUploadReceived   = "mock.upload.received"
	claimsContextKey       = "mock_claims"
	maxUploadMemoryInBytes = 32 << 20
)

// MetricsRecorder increments counters for mock backend events.
type MetricsRecorder interface {
	Increment(event string)
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}

// CodeSink receives verification codes in place of an email provider.
type CodeSink func(email string, code string)

// Options configures a Server.
type Options struct {
	Config      Config
	Logger      *zap.Logger
	Metrics     MetricsRecorder
	Gatherer    prometheus.Gatherer
	CodeSink    CodeSink
	Collections []CollectionSpec
}

// Server is an in-memory stand-in for the AnimalPlace backend.
type Server struct {
	config        Config
	logger        *zap.Logger
	metrics       MetricsRecorder
	codeSink      CodeSink
	accounts      *Accounts
	codes         *CodeStore
	refreshTokens *RefreshTokenStore
	validator     *sessionvalidator.Validator
	collections   map[string]*Collection
	router        *gin.Engine
}

// NewServer validates options and mounts every route.
func NewServer(options Options) (*Server, error) {
	configuration, err := options.Config.validate()
	if err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := options.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: configuration.SigningKey,
		Issuer:     configuration.Issuer,
		Clock:      configuration.Clock,
	})
	if err != nil {
		return nil, err
	}
	specs := options.Collections
	if len(specs) == 0 {
		specs = DefaultCollections
	}

	server := &Server{
		config:        configuration,
		logger:        logger,
		metrics:       metrics,
		codeSink:      options.CodeSink,
		accounts:      NewAccounts(),
		codes:         NewCodeStore(configuration.CodeTTL, configuration.Clock),
		refreshTokens: NewRefreshTokenStore(configuration.Clock),
		validator:     validator,
		collections:   make(map[string]*Collection, len(specs)),
	}
	if server.codeSink == nil {
		server.codeSink = func(email string, code string) {
			logger.Info("verification code issued",
				zap.String("code", "mockapi.code.issued"),
				zap.String("email", email),
				zap.String("verification_code", code))
		}
	}
	for _, spec := range specs {
		server.collections[spec.Name] = NewCollection(spec, configuration.Clock)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.MaxMultipartMemory = maxUploadMemoryInBytes
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))
	if len(configuration.AllowedOrigins) > 0 {
		corsMiddleware, corsErr := ConfigureCORS(logger, configuration.AllowedOrigins)
		if corsErr != nil {
			return nil, corsErr
		}
		router.Use(corsMiddleware)
	}
	if options.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(options.Gatherer, promhttp.HandlerOpts{})))
	}
	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server.mountAuthRoutes(router)
	protected := router.Group("/api")
	protected.Use(validator.RequireSession(claimsContextKey))
	protected.GET("/auth/session", server.handleSession)

	dashboard := protected.Group("")
	dashboard.Use(sessionvalidator.RequireRole(claimsContextKey, DashboardRoles...))
	dashboard.POST("/reports/upload", server.handleReportUpload)
	for _, spec := range specs {
		server.mountCollection(dashboard, server.collections[spec.Name])
	}

	server.router = router
	return server, nil
}

// Handler returns the HTTP handler serving every route.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Accounts exposes the account directory so callers can seed users.
func (server *Server) Accounts() *Accounts {
	return server.accounts
}

// Collection returns the named collection or nil.
func (server *Server) Collection(name string) *Collection {
	return server.collections[name]
}

// RevokeSessions revokes all refresh tokens of accountID, forcing the next refresh to fail.
func (server *Server) RevokeSessions(ctx context.Context, accountID string) int {
	return server.refreshTokens.RevokeUser(ctx, accountID)
}

// NewRouter builds a Server and returns its handler.
func NewRouter(options Options) (http.Handler, error) {
	server, err := NewServer(options)
	if err != nil {
		return nil, err
	}
	return server.Handler(), nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}

func respond(contextGin *gin.Context, status int, data any) {
	contextGin.JSON(status, gin.H{"success": true, "data": data})
}

func fail(contextGin *gin.Context, status int, code string, message string) {
	contextGin.AbortWithStatusJSON(status, gin.H{"success": false, "code": code, "message": message})
}
