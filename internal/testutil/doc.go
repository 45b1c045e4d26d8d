// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Common helpers include file tree setup (MustWriteFile, WriteTree, MustMkdirAll),
// archive inspection (ReadZip), directory changes (MustChdir), concurrency
// instrumentation (InFlight) and polling (Eventually).
package testutil
