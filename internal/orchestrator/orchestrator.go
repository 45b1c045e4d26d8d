// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/invowk/slsbundle/internal/build"
	"github.com/invowk/slsbundle/internal/config"
	"github.com/invowk/slsbundle/internal/copyrule"
	"github.com/invowk/slsbundle/internal/core/lifecycle"
	"github.com/invowk/slsbundle/internal/entry"
	"github.com/invowk/slsbundle/internal/service"
	"github.com/invowk/slsbundle/internal/supervisor"
	"github.com/invowk/slsbundle/internal/watch"
	"github.com/invowk/slsbundle/pkg/pack"

	"github.com/charmbracelet/log"
)

// stopSlack is added to the configured stop timeout when Dev tears down
// after its context is cancelled.
const stopSlack = 2 * time.Second

type (
	// Options configures an Orchestrator. Zero values select defaults.
	Options struct {
		// WorkDir is the service directory. It defaults to the directory of
		// the service file, then to the current directory.
		WorkDir string
		// Stage overrides the service stage.
		Stage string
		// Config is the bundle configuration (config.DefaultConfig when nil).
		Config *config.Config
		// Command overrides the configured dev command.
		Command string
		// Launcher starts dev children (supervisor.ExecLauncher when nil).
		Launcher supervisor.Launcher
		// Stdout and Stderr receive the dev child output.
		Stdout io.Writer
		Stderr io.Writer
		// Logger is the parent logger; components log under their own prefix.
		Logger *log.Logger
	}

	// Artifact is one packaged function.
	Artifact struct {
		// Function is the function name.
		Function string
		// Path is the archive path recorded on the function, relative to the
		// service directory.
		Path string
		// Size is the archive size in bytes.
		Size int64
	}

	// Orchestrator runs the bundle phases for one service.
	Orchestrator struct {
		svc     *service.Service
		cfg     *config.Config
		opts    Options
		workDir string
		stage   string
		logger  *log.Logger

		// Set by Init; read only after initPhase has settled.
		registry *entry.Registry
		engine   *build.Engine
		assets   *watch.Watcher
		packager *pack.Packager

		mu      sync.Mutex
		child   *supervisor.Supervisor
		devMode bool

		initPhase    lifecycle.Phase[*entry.Registry]
		buildPhase   lifecycle.Phase[struct{}]
		watchPhase   lifecycle.Phase[struct{}]
		packPhase    lifecycle.Phase[[]Artifact]
		disposePhase lifecycle.Phase[struct{}]
	}
)

// New creates an Orchestrator for svc. Nothing touches the filesystem until
// Init.
func New(svc *service.Service, opts Options) (*Orchestrator, error) {
	if svc == nil {
		return nil, errors.New("orchestrator: nil service")
	}
	cfg := config.DefaultConfig()
	if opts.Config != nil {
		*cfg = *opts.Config
	}
	if cfg.OutDir == "" {
		cfg.OutDir = config.DefaultOutDir
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = config.DefaultArchiveDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	workDir := opts.WorkDir
	if workDir == "" && svc.Path() != "" {
		workDir = filepath.Dir(svc.Path())
	}
	if workDir == "" {
		workDir = "."
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve service directory: %w", err)
	}

	return &Orchestrator{
		svc:     svc,
		cfg:     cfg,
		opts:    opts,
		workDir: absWorkDir,
		stage:   svc.Stage(opts.Stage),
		logger:  logger,
	}, nil
}

// WorkDir returns the absolute service directory.
func (o *Orchestrator) WorkDir() string { return o.workDir }

// Stage returns the effective stage.
func (o *Orchestrator) Stage() string { return o.stage }

// Service returns the service definition, including handler rewrites and
// recorded artifacts.
func (o *Orchestrator) Service() *service.Service { return o.svc }

// Init cleans the output root, resolves every function into a target,
// compiles the copy rules and prepares the build engine and asset watcher.
func (o *Orchestrator) Init(ctx context.Context) (*entry.Registry, error) {
	return o.initPhase.Do(ctx, o.init)
}

func (o *Orchestrator) init(ctx context.Context) (*entry.Registry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outRoot := filepath.Join(o.workDir, filepath.FromSlash(o.cfg.OutDir))
	if err := os.RemoveAll(outRoot); err != nil {
		return nil, fmt.Errorf("clean output directory: %w", err)
	}

	reg, err := entry.NewResolver(o.workDir, o.cfg.OutDir).Resolve(o.svc)
	if err != nil {
		return nil, err
	}

	global, perFunction := o.copyPatterns(reg)
	rules, err := copyrule.Compile(global, perFunction, reg)
	if err != nil {
		return nil, err
	}

	engine, err := build.New(
		build.OptionsFromConfig(o.cfg, o.workDir, o.stage),
		reg,
		o.logger.WithPrefix("build"),
	)
	if err != nil {
		return nil, err
	}

	assets, err := watch.New(watch.Config{
		Rules:       rules,
		BaseDir:     o.workDir,
		Ignore:      append(watch.IgnoreDir(o.cfg.OutDir), watch.IgnoreDir(o.cfg.ArchiveDir)...),
		Concurrency: o.cfg.Workers(),
		OnBatch:     o.changed,
		Logger:      o.logger.WithPrefix("assets"),
	})
	if err != nil {
		return nil, err
	}

	o.registry = reg
	o.engine = engine
	o.assets = assets
	o.packager = pack.NewPackager(o.cfg.Workers(), o.logger.WithPrefix("pack"))

	for _, r := range rules.Rules() {
		o.logger.Debug("copy rule",
			"pattern", r.Pattern,
			"scope", r.Scope,
			"exclude", r.Exclude,
			"outputs", r.OutputDirs(),
		)
	}
	o.logger.Debug("initialized",
		"targets", reg.Len(),
		"rules", rules.Len(),
		"stage", o.stage,
		"minify", engine.Options().Minify(),
	)
	return reg, nil
}

// copyPatterns merges the service package patterns with the configured copy
// entries. Function patterns are keyed by function name.
func (o *Orchestrator) copyPatterns(reg *entry.Registry) ([]string, map[string][]string) {
	cfgGlobal, cfgPerFunction := o.cfg.CopyPatterns()

	global := append(slices.Clone(o.svc.Patterns()), cfgGlobal...)
	perFunction := make(map[string][]string, len(cfgPerFunction))
	for _, t := range reg.Targets() {
		if patterns := o.svc.Functions[t.Name].Patterns(); len(patterns) > 0 {
			perFunction[t.Name] = slices.Clone(patterns)
		}
	}
	for name, patterns := range cfgPerFunction {
		perFunction[name] = append(perFunction[name], patterns...)
	}
	return global, perFunction
}

// Build copies every matching asset and compiles every target once. It
// returns after both have finished.
func (o *Orchestrator) Build(ctx context.Context) error {
	_, err := o.buildPhase.Do(ctx, func(ctx context.Context) (struct{}, error) {
		if _, err := o.Init(ctx); err != nil {
			return struct{}{}, err
		}
		if err := o.assets.Sync(ctx); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, o.engine.Build(ctx, build.Request{})
	})
	return err
}

// Watch starts incremental compilation and asset watching. Successful
// rebuilds and asset batches notify the supervised child, if any.
func (o *Orchestrator) Watch(ctx context.Context) error {
	_, err := o.watchPhase.Do(ctx, func(ctx context.Context) (struct{}, error) {
		if _, err := o.Init(ctx); err != nil {
			return struct{}{}, err
		}
		if err := o.engine.Watch(ctx, o.changed); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, o.assets.Start(ctx)
	})
	return err
}

// Pack archives every target into <archive_dir>/<function>.zip, restores the
// declared handlers and records each archive as the function's artifact.
// Pack builds first when Build has not run yet.
func (o *Orchestrator) Pack(ctx context.Context) ([]Artifact, error) {
	return o.packPhase.Do(ctx, o.pack)
}

func (o *Orchestrator) pack(ctx context.Context) ([]Artifact, error) {
	if err := o.Build(ctx); err != nil {
		return nil, err
	}
	if n := o.assets.Pending(); n > 0 {
		o.logger.Debug("waiting for asset copies", "pending", n)
	}
	if err := o.assets.Drain(ctx); err != nil {
		return nil, err
	}

	targets := o.registry.Targets()
	descriptors := make([]pack.Descriptor, 0, len(targets))
	for _, t := range targets {
		descriptors = append(descriptors, pack.Descriptor{
			FunctionName: t.Name,
			SourceDir:    o.abs(t.OutputDir),
			ZipPath:      o.abs(o.archivePath(t.Name)),
		})
	}
	if err := o.packager.PackAll(ctx, descriptors); err != nil {
		return nil, err
	}

	artifacts := make([]Artifact, 0, len(targets))
	for _, t := range targets {
		rel := o.archivePath(t.Name)
		info, err := os.Stat(o.abs(rel))
		if err != nil {
			return nil, fmt.Errorf("stat archive for %q: %w", t.Name, err)
		}

		fn := o.svc.Functions[t.Name]
		fn.RestoreHandler()
		fn.SetArtifact(rel)

		artifacts = append(artifacts, Artifact{Function: t.Name, Path: rel, Size: info.Size()})
	}
	return artifacts, nil
}

// Dispose closes the watchers and releases the build context. The dev child
// is stopped too unless the orchestrator runs in dev mode, where Dev owns it.
// Dispose waits for an in-flight Init.
func (o *Orchestrator) Dispose(ctx context.Context) error {
	_, err := o.disposePhase.Do(ctx, func(ctx context.Context) (struct{}, error) {
		if o.initPhase.Status() == lifecycle.PhaseNotStarted {
			return struct{}{}, nil
		}
		if _, err := o.initPhase.Wait(ctx); err != nil && ctx.Err() != nil {
			return struct{}{}, err
		}

		var errs []error
		if o.assets != nil {
			errs = append(errs, o.assets.Stop())
		}
		if o.engine != nil {
			o.engine.Dispose()
		}

		o.mu.Lock()
		child, devMode := o.child, o.devMode
		o.mu.Unlock()
		if child != nil && !devMode {
			errs = append(errs, child.Stop(ctx))
		}
		return struct{}{}, errors.Join(errs...)
	})
	return err
}

// Generate runs Init, Build and Pack, then always disposes.
func (o *Orchestrator) Generate(ctx context.Context) (artifacts []Artifact, err error) {
	defer func() {
		err = errors.Join(err, o.Dispose(context.WithoutCancel(ctx)))
	}()
	return o.Pack(ctx)
}

// Dev runs the development loop: incremental builds and asset copies feed a
// debounced restart of the supervised child. It blocks until ctx is done and
// then stops everything.
func (o *Orchestrator) Dev(ctx context.Context) (err error) {
	o.mu.Lock()
	o.devMode = true
	o.mu.Unlock()

	child, err := o.newChild()
	if err != nil {
		return err
	}

	base := context.WithoutCancel(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(base, o.cfg.Dev.StopGrace()+stopSlack)
		defer cancel()
		err = errors.Join(err, child.Stop(stopCtx), o.Dispose(stopCtx))
	}()

	if err := o.Watch(ctx); err != nil {
		return err
	}
	if err := o.supervise(ctx, child); err != nil {
		return err
	}
	o.logger.Info("dev loop running", "command", child.Args(), "debounce", o.cfg.Debounce())

	<-ctx.Done()
	return nil
}

func (o *Orchestrator) newChild() (*supervisor.Supervisor, error) {
	command := o.opts.Command
	if command == "" {
		command = o.cfg.Dev.Command
	}
	envFiles := make([]string, 0, len(o.cfg.Dev.EnvFiles))
	for _, f := range o.cfg.Dev.EnvFiles {
		if !filepath.IsAbs(f) {
			f = filepath.Join(o.workDir, f)
		}
		envFiles = append(envFiles, f)
	}

	return supervisor.New(supervisor.Config{
		Command:     command,
		Dir:         o.workDir,
		EnvFiles:    envFiles,
		Debounce:    o.cfg.Debounce(),
		StopTimeout: o.cfg.Dev.StopGrace(),
		Launcher:    o.opts.Launcher,
		Stdout:      o.opts.Stdout,
		Stderr:      o.opts.Stderr,
		Logger:      o.logger.WithPrefix("dev"),
	})
}

// supervise starts child and routes change notifications to it.
func (o *Orchestrator) supervise(ctx context.Context, child *supervisor.Supervisor) error {
	o.mu.Lock()
	o.child = child
	o.mu.Unlock()
	return child.Start(ctx)
}

// changed is the rebuild and asset batch callback.
func (o *Orchestrator) changed() {
	o.mu.Lock()
	child := o.child
	o.mu.Unlock()
	if child != nil {
		child.NotifyChange()
	}
}

func (o *Orchestrator) archivePath(function string) string {
	return path.Join(o.cfg.ArchiveDir, function+".zip")
}

func (o *Orchestrator) abs(rel string) string {
	return filepath.Join(o.workDir, filepath.FromSlash(rel))
}
