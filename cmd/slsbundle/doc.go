// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the slsbundle CLI.
//
// The commands are thin: they load the service definition and the bundle
// configuration, build an orchestrator and render its results. Failures are
// printed with their catalog issue and turned into an ExitError.
package cmd
