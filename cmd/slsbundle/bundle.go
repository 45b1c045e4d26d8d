// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/invowk/slsbundle/internal/orchestrator"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newBundleCommand(app *App, flags *rootFlags) *cobra.Command {
	bundleCmd := &cobra.Command{
		Use:   "bundle",
		Short: "Build and package functions, or run the dev loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	bundleCmd.AddCommand(newBundleGenerateCommand(app, flags), newBundleDevCommand(app, flags))
	return bundleCmd
}

func newBundleGenerateCommand(app *App, flags *rootFlags) *cobra.Command {
	var writeService string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Compile, copy assets and write one archive per function",
		Long: `Compile every function, copy its assets and write one archive per
function into the archive directory (default .serverless/<function>.zip).

Archives are byte-identical across runs over unchanged sources.`,
		Example: `  # Package every function
  slsbundle bundle generate

  # Package and write the service definition with artifacts recorded
  slsbundle bundle generate --write-service .serverless/serverless.packaged.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			if err := runGenerate(cmd.Context(), app, flags, writeService); err != nil {
				return app.fail(err, flags.verbose)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&writeService, "write-service", "", "write the service definition with recorded artifacts to this file")
	return cmd
}

func runGenerate(ctx context.Context, app *App, flags *rootFlags, writeService string) error {
	orch, err := app.newOrchestrator(ctx, flags, "")
	if err != nil {
		return err
	}

	artifacts, err := orch.Generate(ctx)
	if err != nil {
		return err
	}

	if writeService != "" {
		if err := orch.Service().WriteFile(writeService); err != nil {
			return err
		}
	}

	return renderSummary(app.stdout, orch, artifacts, writeService)
}

// renderSummary prints one row per packaged function.
func renderSummary(w io.Writer, orch *orchestrator.Orchestrator, artifacts []orchestrator.Artifact, writeService string) error {
	outputs := make(map[string]string, len(artifacts))
	if reg, err := orch.Init(context.Background()); err == nil {
		for _, t := range reg.Targets() {
			outputs[t.Name] = t.CompiledFile()
		}
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(SubtitleStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		}).
		Headers("FUNCTION", "HANDLER", "OUTPUT", "ARTIFACT", "SIZE")

	svc := orch.Service()
	for _, a := range artifacts {
		tbl.Row(a.Function, svc.Functions[a.Function].Handler, outputs[a.Function], a.Path, formatSize(a.Size))
	}

	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Packaged %d function(s)", len(artifacts)))+
		SubtitleStyle.Render(fmt.Sprintf(" (stage %s)", orch.Stage())))
	fmt.Fprintln(w, tbl.Render())
	if writeService != "" {
		fmt.Fprintf(w, "%s %s\n", SuccessStyle.Render("Service definition written to"), CmdStyle.Render(writeService))
	}
	return nil
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newBundleDevCommand(app *App, flags *rootFlags) *cobra.Command {
	var command string

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch sources and supervise the offline server",
		Long: `Compile and copy assets incrementally while supervising a child process,
by default "serverless offline start". The child is restarted after changes
settle for the configured debounce window. Press Ctrl+C to stop.

The child runs with SLSBUNDLE_DISABLED=1 and IS_OFFLINE=true so its own
lifecycle hooks do not bundle again.`,
		Example: `  slsbundle bundle dev
  slsbundle bundle dev --command "npx serverless offline start --httpPort 3001"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			if err := runDev(cmd.Context(), app, flags, command); err != nil {
				return app.fail(err, flags.verbose)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "dev command (default from bundle.config.cue, then \"serverless offline start\")")
	return cmd
}

func runDev(ctx context.Context, app *App, flags *rootFlags, command string) error {
	orch, err := app.newOrchestrator(ctx, flags, command)
	if err != nil {
		return err
	}
	return orch.Dev(ctx)
}
