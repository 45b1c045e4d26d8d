// SPDX-License-Identifier: MPL-2.0

// Package build compiles bundle targets with the esbuild Go API.
//
// Build is the one-shot path: every distinct target is compiled into its own
// output directory with bounded concurrency. Watch is the dev path: a single
// incremental esbuild context over all entry points that signals each
// successful rebuild.
package build
