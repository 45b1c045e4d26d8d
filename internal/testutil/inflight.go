// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"sync"
	"time"
)

// InFlight counts concurrent executions and remembers the peak, so tests can
// observe a concurrency cap:
//
//	var f testutil.InFlight
//	done := f.Enter()
//	defer done()
type InFlight struct {
	mu      sync.Mutex
	current int
	peak    int
	total   int
	// Hold, when set, is slept inside Enter to widen the overlap window.
	Hold time.Duration
}

// Enter records one execution start and returns the matching leave function.
func (f *InFlight) Enter() func() {
	f.mu.Lock()
	f.current++
	f.total++
	if f.current > f.peak {
		f.peak = f.current
	}
	hold := f.Hold
	f.mu.Unlock()

	if hold > 0 {
		time.Sleep(hold)
	}

	return func() {
		f.mu.Lock()
		f.current--
		f.mu.Unlock()
	}
}

// Peak returns the highest number of simultaneous executions seen.
func (f *InFlight) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// Total returns how many executions were started.
func (f *InFlight) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}
