// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/invowk/slsbundle/internal/config"

	"golang.org/x/exp/maps"
)

// Host lifecycle events the orchestrator attaches to.
const (
	EventBeforePackage         = "before-package"
	EventAfterPackage          = "after-package"
	EventBeforeFunctionPackage = "before-function-package"
	EventAfterFunctionPackage  = "after-function-package"
	EventBeforeOfflineStart    = "before-offline-start"
	EventBeforeInvokeLocal     = "before-invoke-local"
	EventAfterInvokeLocal      = "after-invoke-local"
)

// ErrUnknownEvent is the sentinel wrapped by UnknownEventError.
var ErrUnknownEvent = errors.New("unknown lifecycle event")

type (
	// Hook runs one lifecycle event.
	Hook func(ctx context.Context) error

	// UnknownEventError is returned by Run for an event without a hook.
	UnknownEventError struct {
		Event string
	}
)

// Error implements the error interface for UnknownEventError.
func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown lifecycle event %q (known: %v)", e.Event, Events())
}

// Unwrap returns ErrUnknownEvent for errors.Is() compatibility.
func (e *UnknownEventError) Unwrap() error { return ErrUnknownEvent }

// Events returns the supported event names, sorted.
func Events() []string {
	names := []string{
		EventBeforePackage,
		EventAfterPackage,
		EventBeforeFunctionPackage,
		EventAfterFunctionPackage,
		EventBeforeOfflineStart,
		EventBeforeInvokeLocal,
		EventAfterInvokeLocal,
	}
	slices.Sort(names)
	return names
}

// Hooks returns the hook table keyed by event. Every hook is a no-op while
// SLSBUNDLE_DISABLED is set, which is how supervised children avoid bundling
// recursively.
func (o *Orchestrator) Hooks() map[string]Hook {
	pack := func(ctx context.Context) error {
		_, err := o.Pack(ctx)
		return err
	}
	hooks := map[string]Hook{
		EventBeforePackage:         pack,
		EventAfterPackage:          o.Dispose,
		EventBeforeFunctionPackage: pack,
		EventAfterFunctionPackage:  o.Dispose,
		EventBeforeOfflineStart:    o.Watch,
		EventBeforeInvokeLocal:     o.Build,
		EventAfterInvokeLocal:      o.Dispose,
	}

	for _, event := range maps.Keys(hooks) {
		hooks[event] = o.guard(event, hooks[event])
	}
	return hooks
}

// Run executes the hook registered for event.
func (o *Orchestrator) Run(ctx context.Context, event string) error {
	hook, ok := o.Hooks()[event]
	if !ok {
		return &UnknownEventError{Event: event}
	}
	return hook(ctx)
}

func (o *Orchestrator) guard(event string, hook Hook) Hook {
	return func(ctx context.Context) error {
		if config.Disabled() {
			o.logger.Debug("bundling disabled", "event", event, "env", config.DisabledEnv)
			return nil
		}
		o.logger.Debug("running hook", "event", event)
		if err := hook(ctx); err != nil {
			return fmt.Errorf("%s: %w", event, err)
		}
		return nil
	}
}
