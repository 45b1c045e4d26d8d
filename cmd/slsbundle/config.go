// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/invowk/slsbundle/internal/config"

	"github.com/spf13/cobra"
)

func newConfigCommand(app *App, flags *rootFlags) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the bundle configuration",
		Long: `Inspect the bundle configuration read from bundle.config.cue next to
the service definition, or from --config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	configCmd.AddCommand(newConfigShowCommand(app, flags), newConfigDumpCommand(app, flags))
	return configCmd
}

func newConfigShowCommand(app *App, flags *rootFlags) *cobra.Command {
	var schema bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if schema {
				_, err := fmt.Fprint(app.stdout, config.Schema())
				return err
			}

			cmd.SilenceErrors = true
			if err := runConfigShow(cmd.Context(), app, flags); err != nil {
				return app.fail(err, flags.verbose)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&schema, "schema", false, "print the CUE schema instead of the effective values")
	return cmd
}

func runConfigShow(ctx context.Context, app *App, flags *rootFlags) error {
	cfg, err := app.loadConfig(ctx, flags)
	if err != nil {
		return err
	}

	path := config.ResolvePath(config.LoadOptions{
		ConfigFilePath: flags.configPath,
		BaseDir:        filepath.Dir(flags.servicePath),
	})
	if path == "" {
		path = "(defaults, no " + config.FileName + " found)"
	}

	w := app.stdout
	fmt.Fprintln(w, TitleStyle.Render("Bundle configuration"))
	fmt.Fprintf(w, "%s %s\n\n", SubtitleStyle.Render("Source:"), path)

	row(w, "sourcemap", cfg.Sourcemap.String())
	row(w, "external", list(cfg.External))
	row(w, "inject", list(cfg.Inject))
	row(w, "plugins", list(cfg.Plugins))
	row(w, "banner", cfg.Banner)
	row(w, "watch_debounce", cfg.Debounce().String())
	row(w, "concurrency", fmt.Sprintf("%d", cfg.Workers()))
	row(w, "out_dir", cfg.OutDir)
	row(w, "archive_dir", cfg.ArchiveDir)
	row(w, "copy", fmt.Sprintf("%d rule(s)", len(cfg.Copy)))
	row(w, "dev.command", cfg.Dev.Command)
	row(w, "dev.env_files", list(cfg.Dev.EnvFiles))
	row(w, "dev.stop_timeout", cfg.Dev.StopGrace().String())
	return nil
}

func row(w io.Writer, key, value string) {
	if value == "" {
		value = WarningStyle.Render("(unset)")
	}
	fmt.Fprintf(w, "  %s %s\n", CmdStyle.Render(fmt.Sprintf("%-18s", key)), value)
}

func list(values []string) string {
	return strings.Join(values, ", ")
}

func newConfigDumpCommand(app *App, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as CUE",
		Long: `Print the effective configuration as CUE. The output is a valid
bundle.config.cue and can be used as a starting point.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cfg, err := app.loadConfig(cmd.Context(), flags)
			if err != nil {
				return app.fail(err, flags.verbose)
			}
			_, err = fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return err
		},
	}
}
