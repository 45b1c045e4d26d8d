// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/invowk/slsbundle/internal/orchestrator"

	"github.com/spf13/cobra"
)

func newHookCommand(app *App, flags *rootFlags) *cobra.Command {
	var writeService string

	cmd := &cobra.Command{
		Use:   "hook <event>",
		Short: "Run the bundler for one host lifecycle event",
		Long: `Run the hook attached to a host lifecycle event. Events:

  ` + strings.Join(orchestrator.Events(), "\n  ") + `

before-offline-start keeps watching until interrupted. Every other hook
releases its watchers and child processes before returning. All hooks are
no-ops while SLSBUNDLE_DISABLED is set.`,
		Example: `  slsbundle hook before-package --write-service .serverless/serverless.packaged.yml
  slsbundle hook before-invoke-local`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: orchestrator.Events(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			if err := runHook(cmd.Context(), app, flags, args[0], writeService); err != nil {
				return app.fail(err, flags.verbose)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&writeService, "write-service", "", "write the service definition with recorded artifacts to this file")
	return cmd
}

func runHook(ctx context.Context, app *App, flags *rootFlags, event, writeService string) (err error) {
	if !slices.Contains(orchestrator.Events(), event) {
		return &orchestrator.UnknownEventError{Event: event}
	}

	orch, err := app.newOrchestrator(ctx, flags, "")
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, orch.Dispose(context.WithoutCancel(ctx)))
	}()

	if err := orch.Run(ctx, event); err != nil {
		return err
	}

	if event == orchestrator.EventBeforeOfflineStart {
		<-ctx.Done()
		return nil
	}

	if writeService != "" {
		if err := orch.Service().WriteFile(writeService); err != nil {
			return err
		}
	}
	fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("Hook completed:"), CmdStyle.Render(event))
	return nil
}
