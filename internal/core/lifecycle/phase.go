// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const (
	// PhaseNotStarted indicates Do has never been called.
	PhaseNotStarted PhaseStatus = iota
	// PhaseInProgress indicates one execution is running.
	PhaseInProgress
	// PhaseDone indicates the execution finished, with or without an error.
	PhaseDone
)

// ErrPhasePanicked is recorded as the result of a phase whose function panicked.
var ErrPhasePanicked = errors.New("phase panicked")

type (
	// PhaseStatus is the progress of a Phase.
	PhaseStatus int32

	// Phase runs a step at most once. Concurrent callers of Do block on the
	// single in-flight execution and all observe its result. A failed phase stays
	// failed.
	Phase[T any] struct {
		mu     sync.Mutex
		status PhaseStatus
		done   chan struct{}
		value  T
		err    error
	}
)

// String returns a human-readable representation of the status.
func (s PhaseStatus) String() string {
	switch s {
	case PhaseNotStarted:
		return "not-started"
	case PhaseInProgress:
		return "in-progress"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Status returns the current status.
func (p *Phase[T]) Status() PhaseStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Do runs fn if the phase has not started yet, otherwise it waits for the
// running or finished execution. ctx only bounds the wait; fn receives the
// context of the caller that started it.
func (p *Phase[T]) Do(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	p.mu.Lock()
	switch p.status {
	case PhaseDone:
		defer p.mu.Unlock()
		return p.value, p.err
	case PhaseInProgress:
		done := p.done
		p.mu.Unlock()
		return p.wait(ctx, done)
	}

	p.status = PhaseInProgress
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	finished := false
	defer func() {
		if finished {
			return
		}
		// fn panicked or called runtime.Goexit. Waiters get an error instead
		// of blocking forever; the panic continues in this goroutine.
		r := recover()
		var zero T
		p.finish(done, zero, fmt.Errorf("%w: %v", ErrPhasePanicked, r))
		if r != nil {
			panic(r)
		}
	}()

	value, err := fn(ctx)
	finished = true
	p.finish(done, value, err)
	return value, err
}

func (p *Phase[T]) finish(done chan struct{}, value T, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value, p.err = value, err
	p.status = PhaseDone
	close(done)
}

// Wait blocks until an in-flight execution finishes. It returns immediately
// when the phase never started.
func (p *Phase[T]) Wait(ctx context.Context) (T, error) {
	p.mu.Lock()
	switch p.status {
	case PhaseDone:
		defer p.mu.Unlock()
		return p.value, p.err
	case PhaseInProgress:
		done := p.done
		p.mu.Unlock()
		return p.wait(ctx, done)
	default:
		p.mu.Unlock()
		var zero T
		return zero, nil
	}
}

func (p *Phase[T]) wait(ctx context.Context, done <-chan struct{}) (T, error) {
	select {
	case <-done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("waiting for phase: %w", ctx.Err())
	}
}
