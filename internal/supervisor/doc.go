// SPDX-License-Identifier: MPL-2.0

// Package supervisor runs the dev child process and restarts it on change.
//
// Change notifications are debounced: a burst of NotifyChange calls inside the
// debounce window collapses into one restart timed from the last call.
// Restarts are serialized and a replacement child is only spawned after the
// previous one has fully exited, so two children never overlap.
package supervisor
