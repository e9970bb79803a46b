package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/tyemirov/animalplace/internal/apiclient"
	"go.uber.org/zap"
)

// SignInHint is printed when the session can no longer be recovered.
const SignInHint = `Session expired. Run "apadmin login" to sign in again.`

// terminalNavigator maps subcommands onto dashboard paths so the login and
// verify commands count as public pages.
type terminalNavigator struct {
	mutex   sync.Mutex
	current string
	out     io.Writer
	logger  *zap.Logger
}

func newTerminalNavigator(command *cobra.Command, logger *zap.Logger) *terminalNavigator {
	return &terminalNavigator{
		current: commandPath(command),
		out:     command.ErrOrStderr(),
		logger:  logger,
	}
}

func commandPath(command *cobra.Command) string {
	switch command.Name() {
	case "login":
		return apiclient.SignInPath
	case "verify":
		return apiclient.VerifyEmailPathPrefix
	default:
		return "/" + command.Name()
	}
}

func (navigator *terminalNavigator) CurrentPath() string {
	navigator.mutex.Lock()
	defer navigator.mutex.Unlock()
	return navigator.current
}

func (navigator *terminalNavigator) Navigate(path string) {
	navigator.mutex.Lock()
	navigator.current = path
	navigator.mutex.Unlock()

	navigator.logger.Info("navigating to sign-in",
		zap.String("code", "apadmin.navigate"),
		zap.String("path", path))
	_, _ = fmt.Fprintln(navigator.out, SignInHint)
}

// inlineScheduler runs the redirect before the command exits.
type inlineScheduler struct{}

func (inlineScheduler) AfterFunc(_ time.Duration, run func()) {
	run()
}
