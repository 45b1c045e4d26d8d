// SPDX-License-Identifier: MPL-2.0

package build

import (
	"slices"
	"strings"
	"testing"

	"github.com/invowk/slsbundle/internal/config"

	"github.com/evanw/esbuild/pkg/api"
)

func TestOptions_Base(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.External = []string{"sharp"}
	cfg.Banner = "// user banner"
	cfg.Sourcemap = config.SourcemapExternal

	tests := []struct {
		stage  string
		minify bool
	}{
		{"local", false},
		{"dev", true},
		{"prod", true},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			t.Parallel()

			o := OptionsFromConfig(cfg, "/srv/app", tt.stage).base(nil)
			if o.MinifyWhitespace != tt.minify || o.MinifyIdentifiers != tt.minify || o.MinifySyntax != tt.minify {
				t.Errorf("minify = %v/%v/%v, want %v", o.MinifyWhitespace, o.MinifyIdentifiers, o.MinifySyntax, tt.minify)
			}
			if o.Format != api.FormatESModule || o.Platform != api.PlatformNode {
				t.Error("expected ESM output for node")
			}
			if !o.Bundle || !o.KeepNames || !o.Write {
				t.Error("expected bundle, keepNames and write")
			}
			if o.Sourcemap != api.SourceMapExternal {
				t.Errorf("Sourcemap = %v, want external", o.Sourcemap)
			}
			if !slices.Contains(o.External, "aws-sdk") || !slices.Contains(o.External, "sharp") {
				t.Errorf("External = %v", o.External)
			}
			js := o.Banner["js"]
			if !strings.HasPrefix(js, "import { createRequire") || !strings.HasSuffix(js, "// user banner") {
				t.Errorf("banner = %q", js)
			}
		})
	}
}

func TestOptions_ExternalsDoNotAlias(t *testing.T) {
	t.Parallel()

	o := Options{External: []string{"x"}}
	first := o.Externals()
	first[0] = "mutated"
	if o.Externals()[0] != "aws-sdk" {
		t.Error("Externals() leaked the fixed list")
	}
}

func TestPluginNames(t *testing.T) {
	t.Parallel()

	want := []string{PluginNodeProtocolExternal, PluginURLExternal}
	if got := PluginNames(); !slices.Equal(got, want) {
		t.Errorf("PluginNames() = %v, want %v", got, want)
	}
}
