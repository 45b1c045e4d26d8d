// SPDX-License-Identifier: MPL-2.0

package build

import (
	"slices"

	"github.com/invowk/slsbundle/internal/config"

	"github.com/evanw/esbuild/pkg/api"
)

const (
	// LocalStage disables minification.
	LocalStage = "local"
	// NodeVersion is the engine version compiled output targets.
	NodeVersion = "20"

	oneShotEntryNames = "[dir]/[name]"
	watchEntryNames   = "[name]/[dir]/[name]"
)

// compatBanner restores the CommonJS globals ES module output lacks.
const compatBanner = `import { createRequire as __slsCreateRequire } from 'module';
import { fileURLToPath as __slsFileURLToPath } from 'url';
import { dirname as __slsDirname } from 'path';
const require = __slsCreateRequire(import.meta.url);
const __filename = __slsFileURLToPath(import.meta.url);
const __dirname = __slsDirname(__filename);
`

// fixedExternals are native or optional drivers that never bundle cleanly.
var fixedExternals = []string{
	"aws-sdk",
	"better-sqlite3",
	"tedious",
	"mysql",
	"mysql2",
	"oracledb",
	"pg-query-stream",
	"sqlite3",
}

// Options is the build snapshot taken at Init and shared by every compile.
type Options struct {
	// WorkDir is the service directory; entry files and OutDir are relative to it.
	WorkDir string
	// OutDir is the compiled output root.
	OutDir string
	// Stage selects minification: everything but "local" is minified.
	Stage string
	// Sourcemap selects the source map mode.
	Sourcemap config.Sourcemap
	// External lists user module names appended to the fixed externals.
	External []string
	// Inject lists files injected into every entry point.
	Inject []string
	// Plugins names built-in plugins to enable.
	Plugins []string
	// Banner is appended after the compatibility banner.
	Banner string
	// Concurrency bounds simultaneous one-shot compiles.
	Concurrency int
}

// OptionsFromConfig derives build options from the bundler configuration.
func OptionsFromConfig(cfg *config.Config, workDir, stage string) Options {
	return Options{
		WorkDir:     workDir,
		OutDir:      cfg.OutDir,
		Stage:       stage,
		Sourcemap:   cfg.Sourcemap,
		External:    slices.Clone(cfg.External),
		Inject:      slices.Clone(cfg.Inject),
		Plugins:     slices.Clone(cfg.Plugins),
		Banner:      cfg.Banner,
		Concurrency: cfg.Workers(),
	}
}

// Externals returns the fixed externals followed by the user externals.
func (o Options) Externals() []string {
	return append(slices.Clone(fixedExternals), o.External...)
}

// BannerText returns the full banner placed at the top of each output file.
func (o Options) BannerText() string {
	return compatBanner + o.Banner
}

// Minify reports whether output is minified for the configured stage.
func (o Options) Minify() bool {
	return o.Stage != LocalStage
}

// base translates the snapshot into esbuild options without entry points or
// output placement.
func (o Options) base(plugins []api.Plugin) api.BuildOptions {
	minify := o.Minify()
	return api.BuildOptions{
		AbsWorkingDir:     o.WorkDir,
		Bundle:            true,
		Write:             true,
		Platform:          api.PlatformNode,
		Format:            api.FormatESModule,
		Engines:           []api.Engine{{Name: api.EngineNode, Version: NodeVersion}},
		TreeShaking:       api.TreeShakingTrue,
		KeepNames:         true,
		Outbase:           o.WorkDir,
		Sourcemap:         sourcemapMode(o.Sourcemap),
		MinifyWhitespace:  minify,
		MinifyIdentifiers: minify,
		MinifySyntax:      minify,
		External:          o.Externals(),
		Inject:            slices.Clone(o.Inject),
		Banner:            map[string]string{"js": o.BannerText()},
		Plugins:           plugins,
		LogLevel:          api.LogLevelSilent,
	}
}

func sourcemapMode(s config.Sourcemap) api.SourceMap {
	switch s {
	case config.SourcemapExternal:
		return api.SourceMapExternal
	case config.SourcemapNone:
		return api.SourceMapNone
	default:
		return api.SourceMapInline
	}
}
