// SPDX-License-Identifier: MPL-2.0

package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/invowk/slsbundle/internal/entry"

	"github.com/charmbracelet/log"
	"github.com/evanw/esbuild/pkg/api"
	"golang.org/x/sync/errgroup"
)

const rebuildPluginName = "slsbundle-rebuild"

type (
	// Request carries the per-invocation build inputs.
	Request struct {
		// Splitting enables ES module code splitting.
		Splitting bool
	}

	// Engine compiles the targets of one Registry.
	Engine struct {
		opts    Options
		units   []unit
		plugins []api.Plugin
		logger  *log.Logger

		// compile is api.Build; tests replace it to observe concurrency.
		compile func(api.BuildOptions) api.BuildResult

		mu       sync.Mutex
		watchCtx api.BuildContext
		armed    atomic.Bool
	}

	// unit is one distinct entry file and the directory it compiles into.
	unit struct {
		entry     string
		outputDir string
	}
)

// New creates an Engine for the targets in reg. Unknown plugin names are
// rejected here so a bad configuration fails during Init.
func New(opts Options, reg *entry.Registry, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	workDir, err := filepath.Abs(opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	opts.WorkDir = workDir
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	plugins, err := resolvePlugins(opts.Plugins)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:    opts,
		plugins: plugins,
		logger:  logger,
		compile: api.Build,
	}

	// Functions sharing a handler file share its entry and output directory.
	dirs := make(map[string]string, reg.Len())
	for _, t := range reg.Targets() {
		if _, ok := dirs[t.EntryFile]; !ok {
			dirs[t.EntryFile] = t.OutputDir
		}
	}
	for _, entryFile := range reg.EntryPoints() {
		e.units = append(e.units, unit{entry: entryFile, outputDir: dirs[entryFile]})
	}

	return e, nil
}

// Options returns the build snapshot.
func (e *Engine) Options() Options { return e.opts }

// Build compiles every target into its own output directory. Compiles run
// with bounded concurrency; the first failure cancels the compiles not yet
// started and is returned as a *CompileError.
func (e *Engine) Build(ctx context.Context, req Request) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for _, u := range e.units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return e.buildUnit(u, req)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	e.logger.Debug("compiled targets", "count", len(e.units))
	return nil
}

func (e *Engine) buildUnit(u unit, req Request) error {
	opts := e.opts.base(e.plugins)
	opts.EntryPoints = []string{u.entry}
	opts.Outdir = filepath.Join(e.opts.WorkDir, filepath.FromSlash(u.outputDir))
	opts.EntryNames = oneShotEntryNames
	opts.Splitting = req.Splitting

	result := e.compile(opts)
	for _, w := range result.Warnings {
		e.logger.Warn("esbuild", "entry", u.entry, "msg", FormatMessage(w))
	}
	if len(result.Errors) > 0 {
		return &CompileError{Entry: u.entry, Messages: result.Errors}
	}
	e.logger.Debug("compiled", "entry", u.entry, "out", u.outputDir)
	return nil
}

// Watch starts an incremental esbuild context over every entry point and
// compiles once before returning. After that, each successful rebuild calls
// onRebuild; failed rebuilds are logged and do not call it. A failure of the
// initial compile is returned as a *CompileError.
func (e *Engine) Watch(ctx context.Context, onRebuild func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watchCtx != nil {
		return errors.New("watch already started")
	}

	entries := make([]string, 0, len(e.units))
	for _, u := range e.units {
		entries = append(entries, u.entry)
	}

	opts := e.opts.base(append(slices.Clone(e.plugins), e.rebuildPlugin(onRebuild)))
	opts.EntryPoints = entries
	opts.Outdir = filepath.Join(e.opts.WorkDir, filepath.FromSlash(e.opts.OutDir))
	opts.EntryNames = watchEntryNames

	bctx, ctxErr := api.Context(opts)
	if ctxErr != nil {
		return &CompileError{Messages: ctxErr.Errors}
	}

	result := bctx.Rebuild()
	if len(result.Errors) > 0 {
		bctx.Dispose()
		return &CompileError{Messages: result.Errors}
	}
	e.armed.Store(true)

	if err := bctx.Watch(api.WatchOptions{}); err != nil {
		bctx.Dispose()
		return fmt.Errorf("start esbuild watch: %w", err)
	}

	e.watchCtx = bctx
	e.logger.Info("watching sources", "entries", len(entries))
	return nil
}

// rebuildPlugin reports every settle of the watch context.
func (e *Engine) rebuildPlugin(onRebuild func()) api.Plugin {
	return api.Plugin{
		Name: rebuildPluginName,
		Setup: func(build api.PluginBuild) {
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				if len(result.Errors) > 0 {
					for _, msg := range result.Errors {
						e.logger.Error("rebuild failed", "msg", FormatMessage(msg))
					}
					return api.OnEndResult{}, nil
				}
				if e.armed.Load() && onRebuild != nil {
					e.logger.Debug("rebuilt")
					onRebuild()
				}
				return api.OnEndResult{}, nil
			})
		},
	}
}

// Dispose stops watching and releases the esbuild context. It is safe to call
// more than once.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watchCtx == nil {
		return
	}
	e.armed.Store(false)
	e.watchCtx.Dispose()
	e.watchCtx = nil
}
