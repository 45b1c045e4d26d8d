// SPDX-License-Identifier: MPL-2.0

// Package issue provides operator-facing errors and the issue catalog.
//
// ActionableError carries the failed operation, the resource involved and
// suggestions; it may link a catalog Issue whose Markdown explanation the CLI
// renders with glamour.
package issue
