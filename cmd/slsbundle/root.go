// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/invowk/slsbundle/internal/service"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "slsbundle",
		Short: "Bundle, package and live-reload serverless functions",
		Long: TitleStyle.Render("slsbundle") + SubtitleStyle.Render(" - bundle, package and live-reload serverless functions") + `

slsbundle compiles every function handler of a serverless.yml with esbuild
into its own directory, copies static assets next to it, and writes one
reproducible zip archive per function.

` + SubtitleStyle.Render("Examples:") + `
  slsbundle bundle generate              Build and package every function
  slsbundle bundle dev                   Watch sources and restart the offline server
  slsbundle hook before-package          Run a single lifecycle hook
  slsbundle config show                  Show the effective bundle configuration`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	pf.StringVarP(&flags.servicePath, "service", "s", service.DefaultFileName, "service definition file")
	pf.StringVar(&flags.configPath, "config", "", "bundle config file (default is bundle.config.cue next to the service file)")
	pf.StringVar(&flags.stage, "stage", "", "stage override (default is provider.stage, then dev)")

	rootCmd.AddCommand(
		newBundleCommand(app, flags),
		newHookCommand(app, flags),
		newConfigCommand(app, flags),
		newVersionCommand(app),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the slsbundle version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(app.stdout, getVersionString())
			return err
		},
	}
}
