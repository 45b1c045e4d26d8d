// SPDX-License-Identifier: MPL-2.0

// Package lifecycle provides the small state machines shared by the bundler:
// a memoized Phase that lets concurrent callers share one execution of a step,
// and the State enum of the dev process supervisor.
package lifecycle
