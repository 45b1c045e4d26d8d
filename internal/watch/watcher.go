// SPDX-License-Identifier: MPL-2.0

// Package watch keeps bundle output directories in sync with static assets.
//
// The watcher scans the literal base directories of the copy rules, copies
// every match into its destinations, and then follows filesystem events:
// created or written files are matched against the rules, coalesced over a
// short debounce window and copied as tracked jobs. Copy failures are logged
// and dropped; they never stop the watcher.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/invowk/slsbundle/internal/copyrule"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultDebounce coalesces editor bursts (write, then rename a temp file)
	// into a single batch.
	defaultDebounce = 100 * time.Millisecond
	// defaultConcurrency bounds simultaneous copy jobs.
	defaultConcurrency = 8
)

// defaultIgnores lists path patterns that are never scanned or watched.
var defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("watcher stopped")

type (
	// CopyFunc copies one file. src and dst are absolute paths.
	CopyFunc func(src, dst string) error

	// Config holds the parameters for a Watcher.
	Config struct {
		// Rules are the compiled copy rules; their roots are scanned and watched.
		Rules *copyrule.Set

		// BaseDir is the working directory rule paths are relative to. An empty
		// value defaults to the current working directory.
		BaseDir string

		// Ignore are additional doublestar patterns (relative to BaseDir) that
		// are never scanned or watched, typically the output and archive roots.
		Ignore []string

		// Concurrency bounds simultaneous copies. Values below one fall back
		// to defaultConcurrency.
		Concurrency int

		// Debounce is the quiet period after the last event before a batch is
		// copied. Zero or negative values fall back to defaultDebounce.
		Debounce time.Duration

		// OnBatch is called after every incremental batch of copies finishes.
		// It is not called for the initial sync.
		OnBatch func()

		// Copier replaces the file copy, mainly for tests.
		Copier CopyFunc

		// Logger receives copy failures and watcher diagnostics.
		Logger *log.Logger
	}

	// Watcher copies matching files into output directories, once (Sync) or
	// continuously (Start). A Watcher can be started at most once.
	Watcher struct {
		cfg         Config
		baseDir     string
		ignores     []string
		debounce    time.Duration
		concurrency int
		copier      CopyFunc
		logger      *log.Logger
		sem         chan struct{}
		jobs        jobSet

		mu      sync.Mutex
		fsw     *fsnotify.Watcher
		watched map[string]bool
		pending map[string]struct{}
		timer   *time.Timer
		started bool
		// ready is set once the initial sync of Start has finished; batches
		// arriving earlier stay pending until then.
		ready   bool
		stopped bool
		cancel  context.CancelFunc
		loopErr error
		loop    sync.WaitGroup
	}
)

// New creates a Watcher from the given Config. Ignore patterns are validated
// eagerly so an invalid glob fails at construction time.
func New(cfg Config) (*Watcher, error) {
	if cfg.Rules == nil {
		return nil, errors.New("watch: no copy rules")
	}

	baseDir := cfg.BaseDir
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("watch: determine working directory: %w", err)
		}
		baseDir = wd
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve base directory: %w", err)
	}

	if err := validatePatterns(cfg.Ignore); err != nil {
		return nil, err
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	copier := cfg.Copier
	if copier == nil {
		copier = copyFile
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Watcher{
		cfg:         cfg,
		baseDir:     absBase,
		ignores:     append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce:    debounce,
		concurrency: concurrency,
		copier:      copier,
		logger:      logger,
		sem:         make(chan struct{}, concurrency),
		jobs:        newJobSet(),
		watched:     make(map[string]bool),
		pending:     make(map[string]struct{}),
	}, nil
}

// Sync scans the rule roots and copies every match, without watching.
// It returns once all copies have finished; individual failures are logged.
func (w *Watcher) Sync(ctx context.Context) error {
	files, err := w.scan()
	if err != nil {
		return err
	}
	return w.copyInitial(ctx, files)
}

// Start registers the rule roots with fsnotify, performs the initial sync and
// then follows filesystem events in the background until Stop. It returns
// after the initial sync has completed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	if w.started {
		w.mu.Unlock()
		return errors.New("watch: Start called more than once")
	}
	w.started = true

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	w.fsw = fsw
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.mu.Unlock()

	// Directories are registered before the scan so files created while the
	// initial copy runs still produce events.
	for _, root := range w.cfg.Rules.Roots() {
		if err := w.addDirectories(w.abs(root)); err != nil {
			w.Stop() //nolint:errcheck // already failing
			return err
		}
	}

	w.loop.Add(1)
	go w.run(loopCtx)

	if err := w.Sync(ctx); err != nil {
		w.Stop() //nolint:errcheck // already failing
		return err
	}
	w.markReady()

	w.logger.Info("watching assets", "roots", w.cfg.Rules.Roots())
	return nil
}

// markReady lets incremental batches run and flushes the events that arrived
// during the initial sync.
func (w *Watcher) markReady() {
	w.mu.Lock()
	w.ready = true
	w.mu.Unlock()
	w.flush()
}

// Drain flushes any debounced batch and waits until every in-flight copy
// job has finished or ctx is done.
func (w *Watcher) Drain(ctx context.Context) error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.flush()

	return w.jobs.Wait(ctx)
}

// Pending returns the number of in-flight copy jobs.
func (w *Watcher) Pending() int { return w.jobs.Len() }

// Stop ends event processing, waits for in-flight copies and releases the
// fsnotify watcher. It is safe to call more than once and returns the fatal
// watcher error, if one ended the event loop.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		err := w.loopErr
		w.mu.Unlock()
		return err
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	cancel, fsw := w.cancel, w.fsw
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.loop.Wait()

	var closeErr error
	if fsw != nil {
		closeErr = fsw.Close()
	}
	_ = w.jobs.Wait(context.Background())

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loopErr != nil {
		return w.loopErr
	}
	if closeErr != nil {
		return fmt.Errorf("watch: close fsnotify: %w", closeErr)
	}
	return nil
}

// run is the single event dispatcher.
func (w *Watcher) run(ctx context.Context) {
	defer w.loop.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(evt)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if isFatalWatchError(err) {
				w.logger.Error("file watching stopped", "err", err)
				w.mu.Lock()
				w.loopErr = fmt.Errorf("watch: fatal fsnotify error: %w", err)
				w.mu.Unlock()
				return
			}
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(evt fsnotify.Event) {
	if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Write) {
		return
	}

	rel, ok := w.rel(evt.Name)
	if !ok || w.isIgnored(rel) {
		return
	}

	info, err := os.Stat(evt.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		// Files may land in a new directory before it is registered; pick
		// them up with a scan of the new subtree.
		if err := w.addDirectories(evt.Name); err != nil {
			w.logger.Warn("watch new directory", "path", rel, "err", err)
		}
		files, err := w.walk(evt.Name)
		if err != nil {
			w.logger.Warn("scan new directory", "path", rel, "err", err)
		}
		w.enqueue(files...)
		return
	}

	if info.Mode().IsRegular() && len(w.cfg.Rules.Match(rel)) > 0 {
		w.enqueue(rel)
	}
}

// enqueue adds paths to the pending batch and (re)arms the debounce timer.
func (w *Watcher) enqueue(rels ...string) {
	if len(rels) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	for _, rel := range rels {
		w.pending[rel] = struct{}{}
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.flush)
	} else {
		w.timer.Reset(w.debounce)
	}
}

// flush turns the pending batch into tracked copy jobs. It is a no-op until
// the initial sync has finished.
func (w *Watcher) flush() {
	w.mu.Lock()
	if !w.ready || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	rels := make([]string, 0, len(w.pending))
	for rel := range w.pending {
		rels = append(rels, rel)
	}
	clear(w.pending)
	// Registered before the lock is released so Drain never observes the
	// gap between taking the batch and starting its jobs.
	w.jobs.AddWaiter()
	w.mu.Unlock()
	slices.Sort(rels)

	var copies []copyrule.Copy
	for _, rel := range rels {
		copies = append(copies, w.cfg.Rules.Match(rel)...)
	}
	if len(copies) == 0 {
		w.jobs.DoneWaiter()
		return
	}

	var batch sync.WaitGroup
	for _, c := range copies {
		batch.Add(1)
		w.jobs.Add(c)
		go func() {
			defer batch.Done()
			defer w.jobs.Done(c)
			w.sem <- struct{}{}
			defer func() { <-w.sem }()
			w.copy(c)
		}()
	}

	go func() {
		defer w.jobs.DoneWaiter()
		batch.Wait()
		w.logger.Debug("copied batch", "files", len(rels), "copies", len(copies))
		if w.cfg.OnBatch != nil {
			w.cfg.OnBatch()
		}
	}()
}

// copyInitial copies the scanned files with bounded concurrency.
func (w *Watcher) copyInitial(ctx context.Context, files []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	count := 0
	for _, rel := range files {
		for _, c := range w.cfg.Rules.Match(rel) {
			count++
			w.jobs.Add(c)
			g.Go(func() error {
				defer w.jobs.Done(c)
				if err := gctx.Err(); err != nil {
					return err
				}
				w.copy(c)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("watch: initial sync: %w", err)
	}
	w.logger.Debug("initial sync", "files", len(files), "copies", count)
	return nil
}

func (w *Watcher) copy(c copyrule.Copy) {
	if err := w.copier(w.abs(c.Source), w.abs(c.Destination)); err != nil {
		w.logger.Error("copy failed", "path", c.Source, "dest", c.Destination, "err", err)
	}
}

// scan returns every file below the rule roots, deduplicated and sorted.
func (w *Watcher) scan() ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, root := range w.cfg.Rules.Roots() {
		found, err := w.walk(w.abs(root))
		if err != nil {
			return nil, err
		}
		for _, rel := range found {
			if !seen[rel] {
				seen[rel] = true
				files = append(files, rel)
			}
		}
	}
	slices.Sort(files)
	return files, nil
}

// walk lists the non-ignored regular files below dir as slash-separated
// paths relative to BaseDir. A missing dir yields no files.
func (w *Watcher) walk(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir && errors.Is(walkErr, os.ErrNotExist) {
				return filepath.SkipDir
			}
			w.logger.Warn("skipping inaccessible path", "path", path, "err", walkErr)
			return nil
		}
		rel, ok := w.rel(path)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if rel != "." && (w.isIgnored(rel) || w.isIgnored(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && !w.isIgnored(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("watch: scan %s: %w", dir, err)
	}
	return files, nil
}

// addDirectories registers dir and every non-ignored directory below it.
func (w *Watcher) addDirectories(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir && errors.Is(walkErr, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return nil //nolint:nilerr // inaccessible directories are not watched
		}
		if !d.IsDir() {
			return nil
		}
		rel, ok := w.rel(path)
		if !ok {
			return filepath.SkipDir
		}
		if rel != "." && (w.isIgnored(rel) || w.isIgnored(rel+"/")) {
			return filepath.SkipDir
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.watched[path] || w.fsw == nil {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		w.watched[path] = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: register %s: %w", dir, err)
	}
	return nil
}

func (w *Watcher) abs(rel string) string {
	return filepath.Join(w.baseDir, filepath.FromSlash(rel))
}

// rel converts an absolute path to a slash-separated path relative to
// BaseDir; paths outside BaseDir are rejected.
func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.baseDir, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// isIgnored returns true if rel matches any ignore pattern.
func (w *Watcher) isIgnored(rel string) bool {
	for _, pat := range w.ignores {
		if matched, err := doublestar.Match(pat, rel); err == nil && matched {
			return true
		}
	}
	return false
}

// IgnoreDir returns the patterns that exclude dir and everything below it.
func IgnoreDir(dir string) []string {
	dir = filepath.ToSlash(filepath.Clean(dir))
	return []string{dir, dir + "/**"}
}

// validatePatterns checks that every pattern is a valid doublestar glob.
func validatePatterns(patterns []string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("watch: invalid ignore pattern %q", pat)
		}
	}
	return nil
}
