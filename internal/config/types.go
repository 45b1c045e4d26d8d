// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// SourcemapInline embeds source maps in the compiled files.
	SourcemapInline Sourcemap = "inline"
	// SourcemapExternal writes .map files next to the compiled files.
	SourcemapExternal Sourcemap = "external"
	// SourcemapNone disables source maps.
	SourcemapNone Sourcemap = "none"

	// DefaultConcurrency bounds simultaneous compiles, copies and archive writes.
	DefaultConcurrency = 8
	// DefaultWatchDebounce is the dev restart debounce window in milliseconds.
	DefaultWatchDebounce = 1500
	// DefaultStopTimeout is how long a child gets to exit after SIGTERM, in milliseconds.
	DefaultStopTimeout = 5000
	// DefaultDevCommand starts the offline server in the supervised child.
	DefaultDevCommand = "serverless offline start"
	// DefaultOutDir is the compiled output root.
	DefaultOutDir = "dist"
	// DefaultArchiveDir is the archive output root.
	DefaultArchiveDir = ".serverless"
)

var (
	// ErrInvalidSourcemap is returned when a Sourcemap value is not recognized.
	ErrInvalidSourcemap = errors.New("invalid sourcemap mode")
	// ErrInvalidCopyEntry is the sentinel error wrapped by InvalidCopyEntryError.
	ErrInvalidCopyEntry = errors.New("invalid copy entry")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// Sourcemap selects how source maps are emitted.
	Sourcemap string

	// InvalidSourcemapError is returned when a Sourcemap value is not recognized.
	// It wraps ErrInvalidSourcemap for errors.Is() compatibility.
	InvalidSourcemapError struct {
		Value Sourcemap
	}

	// InvalidCopyEntryError is returned when a copy entry has no source.
	InvalidCopyEntryError struct {
		Index int
	}

	// InvalidConfigError aggregates field validation errors.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// CopyEntry is an additional static copy rule.
	CopyEntry struct {
		// From is the source glob, relative to the service directory.
		From string `json:"from" mapstructure:"from"`
		// To is the destination subpath inside the output directory (optional).
		To string `json:"to,omitempty" mapstructure:"to"`
		// Function restricts the rule to one function; empty means all functions.
		Function string `json:"function,omitempty" mapstructure:"function"`
	}

	// DevConfig configures the supervised dev process.
	DevConfig struct {
		// Command is the shell-style command line of the child process.
		Command string `json:"command" mapstructure:"command"`
		// EnvFiles are dotenv files loaded into the child environment.
		EnvFiles []string `json:"env_files" mapstructure:"env_files"`
		// StopTimeout is the SIGTERM grace period in milliseconds.
		StopTimeout int `json:"stop_timeout" mapstructure:"stop_timeout"`
	}

	// Config is the effective bundler configuration.
	Config struct {
		// Sourcemap selects the source map mode (default inline).
		Sourcemap Sourcemap `json:"sourcemap" mapstructure:"sourcemap"`
		// External lists extra module names that are never bundled.
		External []string `json:"external" mapstructure:"external"`
		// Inject lists extra files injected into every entry point.
		Inject []string `json:"inject" mapstructure:"inject"`
		// Plugins names built-in bundler plugins to enable.
		Plugins []string `json:"plugins" mapstructure:"plugins"`
		// Banner is appended after the compatibility banner.
		Banner string `json:"banner" mapstructure:"banner"`
		// WatchDebounce is the dev restart debounce window in milliseconds.
		WatchDebounce int `json:"watch_debounce" mapstructure:"watch_debounce"`
		// Concurrency bounds simultaneous compiles, copies and archive writes.
		Concurrency int `json:"concurrency" mapstructure:"concurrency"`
		// Copy lists additional static copy rules.
		Copy []CopyEntry `json:"copy" mapstructure:"copy"`
		// Dev configures the supervised dev process.
		Dev DevConfig `json:"dev" mapstructure:"dev"`
		// OutDir is the compiled output root.
		OutDir string `json:"out_dir" mapstructure:"out_dir"`
		// ArchiveDir is the archive output root.
		ArchiveDir string `json:"archive_dir" mapstructure:"archive_dir"`
	}
)

// String returns the string representation of the Sourcemap.
func (s Sourcemap) String() string { return string(s) }

// IsValid returns whether the Sourcemap is one of the defined modes,
// and a list of validation errors if it is not.
func (s Sourcemap) IsValid() (bool, []error) {
	switch s {
	case SourcemapInline, SourcemapExternal, SourcemapNone:
		return true, nil
	default:
		return false, []error{&InvalidSourcemapError{Value: s}}
	}
}

// Error implements the error interface for InvalidSourcemapError.
func (e *InvalidSourcemapError) Error() string {
	return fmt.Sprintf("invalid sourcemap %q (valid: inline, external, none)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidSourcemapError) Unwrap() error { return ErrInvalidSourcemap }

// Error implements the error interface for InvalidCopyEntryError.
func (e *InvalidCopyEntryError) Error() string {
	return fmt.Sprintf("copy[%d]: from must be a non-empty glob", e.Index)
}

// Unwrap returns ErrInvalidCopyEntry for errors.Is() compatibility.
func (e *InvalidCopyEntryError) Unwrap() error { return ErrInvalidCopyEntry }

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// IsValid returns whether the Config is valid. Sourcemap and copy entries are
// checked; numeric bounds are enforced by the schema and by the accessors.
func (c *Config) IsValid() (bool, []error) {
	var errs []error
	if ok, fieldErrs := c.Sourcemap.IsValid(); !ok {
		errs = append(errs, fieldErrs...)
	}
	for i, entry := range c.Copy {
		if strings.TrimSpace(entry.From) == "" {
			errs = append(errs, &InvalidCopyEntryError{Index: i})
		}
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Debounce returns the dev restart debounce window.
func (c *Config) Debounce() time.Duration {
	if c.WatchDebounce <= 0 {
		return DefaultWatchDebounce * time.Millisecond
	}
	return time.Duration(c.WatchDebounce) * time.Millisecond
}

// Workers returns the concurrency cap, never less than one.
func (c *Config) Workers() int {
	if c.Concurrency < 1 {
		return DefaultConcurrency
	}
	return c.Concurrency
}

// StopGrace returns the child SIGTERM grace period.
func (d DevConfig) StopGrace() time.Duration {
	if d.StopTimeout <= 0 {
		return DefaultStopTimeout * time.Millisecond
	}
	return time.Duration(d.StopTimeout) * time.Millisecond
}

// CopyPatterns splits the copy entries into global patterns and per-function
// patterns in the "glob[:destination]" form understood by copyrule.
func (c *Config) CopyPatterns() (global []string, perFunction map[string][]string) {
	perFunction = make(map[string][]string)
	for _, entry := range c.Copy {
		pattern := entry.From
		if entry.To != "" {
			pattern += ":" + entry.To
		}
		if entry.Function == "" {
			global = append(global, pattern)
			continue
		}
		perFunction[entry.Function] = append(perFunction[entry.Function], pattern)
	}
	return global, perFunction
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Sourcemap:     SourcemapInline,
		External:      []string{},
		Inject:        []string{},
		Plugins:       []string{},
		WatchDebounce: DefaultWatchDebounce,
		Concurrency:   DefaultConcurrency,
		Copy:          []CopyEntry{},
		Dev: DevConfig{
			Command:     DefaultDevCommand,
			EnvFiles:    []string{},
			StopTimeout: DefaultStopTimeout,
		},
		OutDir:     DefaultOutDir,
		ArchiveDir: DefaultArchiveDir,
	}
}
