package apiclient

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// SignInPath is the public entry point a torn-down session is sent to.
	SignInPath = "/login"
	// RegisterPath is the public sign-up entry point.
	RegisterPath = "/register"
	// VerifyEmailPathPrefix prefixes every public email-verification path.
	VerifyEmailPathPrefix = "/verify-email"

	defaultRedirectDelay = 100 * time.Millisecond
)

// Navigator exposes the current location and performs navigation.
type Navigator interface {
	CurrentPath() string
	Navigate(path string)
}

// Scheduler runs a function after a delay.
type Scheduler interface {
	AfterFunc(delay time.Duration, run func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(delay time.Duration, run func()) {
	time.AfterFunc(delay, run)
}

// SessionRedirector sends the navigator to sign-in after an unrecoverable
// authentication failure, unless it already shows a public page.
type SessionRedirector struct {
	navigator Navigator
	scheduler Scheduler
	delay     time.Duration
	logger    *zap.Logger
	metrics   MetricsRecorder
}

// RedirectorConfig configures a SessionRedirector.
type RedirectorConfig struct {
	Navigator Navigator
	Scheduler Scheduler
	Delay     time.Duration
	Logger    *zap.Logger
	Metrics   MetricsRecorder
}

// NewSessionRedirector applies defaults for scheduler, delay, logger, and metrics.
func NewSessionRedirector(configuration RedirectorConfig) *SessionRedirector {
	redirector := &SessionRedirector{
		navigator: configuration.Navigator,
		scheduler: configuration.Scheduler,
		delay:     configuration.Delay,
		logger:    configuration.Logger,
		metrics:   configuration.Metrics,
	}
	if redirector.scheduler == nil {
		redirector.scheduler = timerScheduler{}
	}
	if redirector.delay <= 0 {
		redirector.delay = defaultRedirectDelay
	}
	if redirector.logger == nil {
		redirector.logger = zap.NewNop()
	}
	if redirector.metrics == nil {
		redirector.metrics = noopMetrics{}
	}
	return redirector
}

// IsPublicPath reports whether path is a sign-in, sign-up, or email-verification page.
func IsPublicPath(path string) bool {
	cleaned := strings.TrimRight(path, "/")
	switch cleaned {
	case SignInPath, RegisterPath:
		return true
	}
	return strings.HasPrefix(cleaned, VerifyEmailPathPrefix)
}

// Redirect schedules navigation to sign-in and reports whether it did.
func (redirector *SessionRedirector) Redirect() bool {
	if redirector == nil || redirector.navigator == nil {
		return false
	}
	currentPath := redirector.navigator.CurrentPath()
	if IsPublicPath(currentPath) {
		redirector.metrics.Increment(metricRedirectSuppressed)
		redirector.logger.Debug("redirect suppressed on public page",
			zap.String("code", "apiclient.redirect.suppressed"),
			zap.String("path", currentPath))
		return false
	}
	redirector.metrics.Increment(metricRedirectScheduled)
	redirector.logger.Info("session ended; redirecting to sign-in",
		zap.String("code", "apiclient.redirect.scheduled"),
		zap.String("from", currentPath),
		zap.Duration("delay", redirector.delay))
	redirector.scheduler.AfterFunc(redirector.delay, func() {
		redirector.navigator.Navigate(SignInPath)
	})
	return true
}
