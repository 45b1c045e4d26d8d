// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/invowk/slsbundle/internal/config"
	"github.com/invowk/slsbundle/internal/issue"
	"github.com/invowk/slsbundle/internal/orchestrator"
	"github.com/invowk/slsbundle/internal/service"
	"github.com/invowk/slsbundle/internal/supervisor"

	"github.com/charmbracelet/log"
)

type (
	// App wires CLI services and shared dependencies. Every command handler
	// receives the App and loads services through it.
	App struct {
		Config   ConfigProvider
		Launcher supervisor.Launcher
		stdout   io.Writer
		stderr   io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config   ConfigProvider
		Launcher supervisor.Launcher
		Stdout   io.Writer
		Stderr   io.Writer
	}

	// ConfigProvider loads the bundle configuration.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// rootFlags holds the persistent flag values shared by all commands.
	rootFlags struct {
		verbose     bool
		configPath  string
		servicePath string
		stage       string
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Launcher == nil {
		deps.Launcher = supervisor.ExecLauncher{}
	}

	return &App{
		Config:   deps.Config,
		Launcher: deps.Launcher,
		stdout:   deps.Stdout,
		stderr:   deps.Stderr,
	}
}

// logger returns the CLI logger; --verbose enables debug output.
func (a *App) logger(flags *rootFlags) *log.Logger {
	logger := log.NewWithOptions(a.stderr, log.Options{
		Prefix:          "slsbundle",
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	if flags.verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// loadService reads the service definition named by --service.
func (a *App) loadService(flags *rootFlags) (*service.Service, error) {
	svc, err := service.Load(flags.servicePath)
	if err == nil {
		return svc, nil
	}

	ctx := issue.NewErrorContext().
		WithOperation("load service definition").
		WithResource(flags.servicePath)
	if errors.Is(err, fs.ErrNotExist) {
		ctx = ctx.
			WithSuggestion("Run slsbundle from the service directory or pass --service").
			WithIssue(issue.ServiceNotFoundId)
	} else {
		ctx = ctx.WithIssue(issue.ServiceParseErrorId)
	}
	return nil, ctx.Wrap(err).BuildError()
}

// loadConfig loads the bundle configuration next to the service file unless
// --config names one.
func (a *App) loadConfig(ctx context.Context, flags *rootFlags) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{
		ConfigFilePath: flags.configPath,
		BaseDir:        filepath.Dir(flags.servicePath),
	})
}

// newOrchestrator loads the service and configuration and builds an
// orchestrator over them. command overrides the configured dev command.
func (a *App) newOrchestrator(ctx context.Context, flags *rootFlags, command string) (*orchestrator.Orchestrator, error) {
	svc, err := a.loadService(flags)
	if err != nil {
		return nil, err
	}
	cfg, err := a.loadConfig(ctx, flags)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(svc, orchestrator.Options{
		Stage:    flags.stage,
		Config:   cfg,
		Command:  command,
		Launcher: a.Launcher,
		Stdout:   a.stdout,
		Stderr:   a.stderr,
		Logger:   a.logger(flags),
	})
}

// fail prints err with its catalog issue and returns the ExitError for RunE.
func (a *App) fail(err error, verbose bool) error {
	fmt.Fprintf(a.stderr, "\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))

	if entry := issue.Get(classifyError(err)); entry != nil {
		rendered, renderErr := entry.Render("dark")
		if renderErr == nil {
			fmt.Fprint(a.stderr, rendered)
		}
	}
	return &ExitError{Code: 1, Err: err}
}

// formatErrorForDisplay uses ActionableError formatting when available.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}
