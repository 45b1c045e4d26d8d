// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sourcemap != SourcemapInline {
		t.Errorf("Sourcemap = %q, want %q", cfg.Sourcemap, SourcemapInline)
	}
	if cfg.Concurrency != DefaultConcurrency {
		t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, DefaultConcurrency)
	}
	if cfg.Debounce() != 1500*time.Millisecond {
		t.Errorf("Debounce() = %v, want 1.5s", cfg.Debounce())
	}
	if cfg.OutDir != DefaultOutDir || cfg.ArchiveDir != DefaultArchiveDir {
		t.Errorf("dirs = %q/%q, want %q/%q", cfg.OutDir, cfg.ArchiveDir, DefaultOutDir, DefaultArchiveDir)
	}
	if cfg.Dev.Command != DefaultDevCommand {
		t.Errorf("Dev.Command = %q, want %q", cfg.Dev.Command, DefaultDevCommand)
	}
}

func TestLoad_FromBaseDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, `
sourcemap: "external"
external: ["sharp"]
banner: "// hello"
concurrency: 3
watch_debounce: 200
copy: [
	{from: "assets/**"},
	{from: "templates/*.html", to: "views", function: "render"},
]
dev: {
	command: "node server.js"
	env_files: [".env"]
	stop_timeout: 100
}
`)

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{BaseDir: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sourcemap != SourcemapExternal {
		t.Errorf("Sourcemap = %q, want external", cfg.Sourcemap)
	}
	if len(cfg.External) != 1 || cfg.External[0] != "sharp" {
		t.Errorf("External = %v, want [sharp]", cfg.External)
	}
	if cfg.Banner != "// hello" {
		t.Errorf("Banner = %q", cfg.Banner)
	}
	if cfg.Workers() != 3 {
		t.Errorf("Workers() = %d, want 3", cfg.Workers())
	}
	if cfg.Debounce() != 200*time.Millisecond {
		t.Errorf("Debounce() = %v, want 200ms", cfg.Debounce())
	}
	if cfg.Dev.Command != "node server.js" {
		t.Errorf("Dev.Command = %q", cfg.Dev.Command)
	}
	if cfg.Dev.StopGrace() != 100*time.Millisecond {
		t.Errorf("StopGrace() = %v, want 100ms", cfg.Dev.StopGrace())
	}
	// Untouched keys keep their defaults.
	if cfg.OutDir != DefaultOutDir {
		t.Errorf("OutDir = %q, want default", cfg.OutDir)
	}

	global, perFunction := cfg.CopyPatterns()
	if len(global) != 1 || global[0] != "assets/**" {
		t.Errorf("global patterns = %v", global)
	}
	if got := perFunction["render"]; len(got) != 1 || got[0] != "templates/*.html:views" {
		t.Errorf("render patterns = %v", got)
	}
}

func TestLoad_SchemaViolation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad sourcemap", `sourcemap: "both"`, "sourcemap"},
		{"zero concurrency", `concurrency: 0`, "concurrency"},
		{"unknown key", `minify: true`, "minify"},
		{"empty copy source", `copy: [{from: ""}]`, "copy[0].from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, err := NewProvider().Load(context.Background(), LoadOptions{BaseDir: dir})
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	t.Parallel()

	_, err := NewProvider().Load(context.Background(), LoadOptions{
		ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue"),
	})
	if err == nil {
		t.Fatal("Load() expected error for missing explicit path")
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewProvider().Load(ctx, LoadOptions{BaseDir: t.TempDir()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Load() error = %v, want context.Canceled", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SLSBUNDLE_CONCURRENCY", "2")
	t.Setenv("SLSBUNDLE_WATCH_DEBOUNCE", "50")

	dir := t.TempDir()
	writeConfig(t, dir, "concurrency: 6\n")

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{BaseDir: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("Concurrency = %d, want 2 from env", cfg.Concurrency)
	}
	if cfg.WatchDebounce != 50 {
		t.Errorf("WatchDebounce = %d, want 50 from env", cfg.WatchDebounce)
	}
}

func TestDisabled(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"0", false},
		{"false", false},
		{"1", true},
		{"true", true},
		{"yes", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv(DisabledEnv, tt.value)
			if got := Disabled(); got != tt.want {
				t.Errorf("Disabled() with %q = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestGenerateCUE_RoundTrip(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.External = []string{"sharp"}
	cfg.Copy = []CopyEntry{{From: "assets/**", To: "static", Function: "api"}}
	cfg.Dev.EnvFiles = []string{".env", ".env.local"}

	dir := t.TempDir()
	writeConfig(t, dir, GenerateCUE(cfg))

	loaded, err := NewProvider().Load(context.Background(), LoadOptions{BaseDir: dir})
	if err != nil {
		t.Fatalf("Load() of generated config error = %v", err)
	}
	if len(loaded.Copy) != 1 || loaded.Copy[0] != cfg.Copy[0] {
		t.Errorf("Copy = %+v, want %+v", loaded.Copy, cfg.Copy)
	}
	if len(loaded.Dev.EnvFiles) != 2 {
		t.Errorf("Dev.EnvFiles = %v", loaded.Dev.EnvFiles)
	}
}

func TestSourcemap_IsValid(t *testing.T) {
	t.Parallel()

	for _, s := range []Sourcemap{SourcemapInline, SourcemapExternal, SourcemapNone} {
		if ok, errs := s.IsValid(); !ok {
			t.Errorf("%q.IsValid() = false, %v", s, errs)
		}
	}

	ok, errs := Sourcemap("both").IsValid()
	if ok || len(errs) != 1 || !errors.Is(errs[0], ErrInvalidSourcemap) {
		t.Errorf("IsValid() = %v, %v; want ErrInvalidSourcemap", ok, errs)
	}
}
