// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"fmt"
	"sync"

	"github.com/invowk/slsbundle/internal/copyrule"
)

// jobSet tracks in-flight copies keyed by (source, destination) so callers
// can wait for them before packaging or shutdown.
type jobSet struct {
	mu      sync.Mutex
	active  map[copyrule.Copy]int
	waiters int
	idle    chan struct{}
}

func newJobSet() jobSet {
	idle := make(chan struct{})
	close(idle)
	return jobSet{active: make(map[copyrule.Copy]int), idle: idle}
}

func (s *jobSet) busy() bool { return len(s.active) > 0 || s.waiters > 0 }

func (s *jobSet) markBusy() {
	if !s.busy() {
		s.idle = make(chan struct{})
	}
}

func (s *jobSet) markMaybeIdle() {
	if !s.busy() {
		close(s.idle)
	}
}

// Add records one in-flight copy.
func (s *jobSet) Add(c copyrule.Copy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markBusy()
	s.active[c]++
}

// Done removes one in-flight copy.
func (s *jobSet) Done(c copyrule.Copy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[c] <= 1 {
		delete(s.active, c)
	} else {
		s.active[c]--
	}
	s.markMaybeIdle()
}

// AddWaiter records a batch completion callback that has not run yet.
func (s *jobSet) AddWaiter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markBusy()
	s.waiters++
}

// DoneWaiter removes a batch completion callback.
func (s *jobSet) DoneWaiter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiters--
	s.markMaybeIdle()
}

// Len returns the number of distinct in-flight copies.
func (s *jobSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Wait blocks until no copy or batch callback is in flight.
func (s *jobSet) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for copy jobs: %w", ctx.Err())
	}
}
