// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invowk/slsbundle/internal/issue"

	"github.com/spf13/viper"
)

const (
	// FileName is the bundler config file looked up next to the service definition.
	FileName = "bundle.config.cue"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SLSBUNDLE"
	// DisabledEnv, when set to a truthy value, turns every hook into a no-op.
	DisabledEnv = EnvPrefix + "_DISABLED"
)

//go:embed bundle_schema.cue
var bundleSchema string

// Disabled reports whether bundling is switched off through SLSBUNDLE_DISABLED.
// The dev supervisor sets it on its child so the child does not bundle again.
func Disabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(DisabledEnv))) {
	case "", "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

// ResolvePath returns the config file that Load would read, or "" when none exists.
func ResolvePath(opts LoadOptions) string {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath
	}
	candidate := filepath.Join(opts.BaseDir, FileName)
	if fileExists(candidate) {
		return candidate
	}
	return ""
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("sourcemap", defaults.Sourcemap)
	v.SetDefault("external", defaults.External)
	v.SetDefault("inject", defaults.Inject)
	v.SetDefault("plugins", defaults.Plugins)
	v.SetDefault("banner", defaults.Banner)
	v.SetDefault("watch_debounce", defaults.WatchDebounce)
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("copy", defaults.Copy)
	v.SetDefault("dev.command", defaults.Dev.Command)
	v.SetDefault("dev.env_files", defaults.Dev.EnvFiles)
	v.SetDefault("dev.stop_timeout", defaults.Dev.StopTimeout)
	v.SetDefault("out_dir", defaults.OutDir)
	v.SetDefault("archive_dir", defaults.ArchiveDir)

	v.SetEnvPrefix(EnvPrefix)
	for _, key := range []string{"concurrency", "watch_debounce"} {
		if err := v.BindEnv(key); err != nil {
			return nil, "", fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if opts.ConfigFilePath != "" && !fileExists(opts.ConfigFilePath) {
		return nil, "", issue.NewErrorContext().
			WithOperation("load bundler configuration").
			WithResource(opts.ConfigFilePath).
			WithSuggestion("Verify the file path is correct").
			WithSuggestion("Run 'slsbundle config dump' to print a default configuration").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
			BuildError()
	}

	resolvedPath := ResolvePath(opts)
	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load bundler configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the values match the schema shown by 'slsbundle config show --schema'").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if ok, errs := cfg.IsValid(); !ok {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate bundler configuration").
			WithResource(resolvedPath).
			WithSuggestion("Every copy entry needs a non-empty 'from' glob").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(errs[0]).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	configMap, err := decodeCUE(data, path)
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// Schema returns the embedded CUE schema for bundle.config.cue.
func Schema() string {
	return bundleSchema
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// Bundler configuration, read from bundle.config.cue next to serverless.yml.\n\n")

	fmt.Fprintf(&sb, "sourcemap: %q\n", cfg.Sourcemap)
	writeList(&sb, "external", cfg.External)
	writeList(&sb, "inject", cfg.Inject)
	writeList(&sb, "plugins", cfg.Plugins)
	if cfg.Banner != "" {
		fmt.Fprintf(&sb, "banner: %q\n", cfg.Banner)
	}
	fmt.Fprintf(&sb, "watch_debounce: %d\n", cfg.WatchDebounce)
	fmt.Fprintf(&sb, "concurrency: %d\n", cfg.Concurrency)
	fmt.Fprintf(&sb, "out_dir: %q\n", cfg.OutDir)
	fmt.Fprintf(&sb, "archive_dir: %q\n", cfg.ArchiveDir)

	if len(cfg.Copy) > 0 {
		sb.WriteString("\ncopy: [\n")
		for _, entry := range cfg.Copy {
			fmt.Fprintf(&sb, "\t{from: %q", entry.From)
			if entry.To != "" {
				fmt.Fprintf(&sb, ", to: %q", entry.To)
			}
			if entry.Function != "" {
				fmt.Fprintf(&sb, ", function: %q", entry.Function)
			}
			sb.WriteString("},\n")
		}
		sb.WriteString("]\n")
	}

	sb.WriteString("\ndev: {\n")
	fmt.Fprintf(&sb, "\tcommand: %q\n", cfg.Dev.Command)
	if len(cfg.Dev.EnvFiles) > 0 {
		sb.WriteString("\tenv_files: [")
		for i, f := range cfg.Dev.EnvFiles {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%q", f)
		}
		sb.WriteString("]\n")
	}
	fmt.Fprintf(&sb, "\tstop_timeout: %d\n", cfg.Dev.StopTimeout)
	sb.WriteString("}\n")

	return sb.String()
}

func writeList(sb *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s: [", key)
	for i, value := range values {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%q", value)
	}
	sb.WriteString("]\n")
}
