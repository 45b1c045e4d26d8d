// SPDX-License-Identifier: MPL-2.0

// Package config handles bundler configuration using Viper with CUE as the file format.
//
// Configuration is read from bundle.config.cue next to the service definition. The file
// is optional: when it is absent the defaults apply. Values are validated against an
// embedded CUE schema (bundle_schema.cue) before being merged into Viper, and selected
// keys can be overridden from the environment (SLSBUNDLE_CONCURRENCY,
// SLSBUNDLE_WATCH_DEBOUNCE).
package config
