// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/invowk/slsbundle/internal/copyrule"
	"github.com/invowk/slsbundle/internal/entry"
	"github.com/invowk/slsbundle/internal/service"
	"github.com/invowk/slsbundle/internal/testutil"
)

const waitTimeout = 5 * time.Second

// newRules builds the fn1/fn2 project: a global "static/*" rule and an
// "asset/*:individual" rule scoped to fn2.
func newRules(t *testing.T, dir string, global []string, perFunction map[string][]string) *copyrule.Set {
	t.Helper()
	testutil.WriteTree(t, dir, map[string]string{
		"src/a.js": "export const handler = 1;\n",
		"src/b.js": "export const handler = 2;\n",
	})
	svc := &service.Service{Functions: map[string]*service.Function{
		"fn1": {Handler: "src/a.handler"},
		"fn2": {Handler: "src/b.handler"},
	}}
	reg, err := entry.NewResolver(dir, "dist").Resolve(svc)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	set, err := copyrule.Compile(global, perFunction, reg)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return set
}

func TestSync_CopiesGlobalAndScoped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rules := newRules(t, dir, []string{"static/*"}, map[string][]string{"fn2": {"asset/*:individual"}})
	testutil.WriteTree(t, dir, map[string]string{
		"static/static.txt":     "static",
		"asset/individual.txt":  "individual",
		"unrelated/ignored.txt": "nope",
	})

	w, err := New(Config{Rules: rules, BaseDir: dir, Ignore: IgnoreDir("dist")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	for _, want := range []string{
		"dist/a/static/static.txt",
		"dist/b/static/static.txt",
		"dist/b/individual/individual.txt",
	} {
		if !testutil.FileExists(filepath.Join(dir, want)) {
			t.Errorf("%s missing", want)
		}
	}
	for _, unwanted := range []string{
		"dist/a/individual/individual.txt",
		"dist/a/unrelated/ignored.txt",
	} {
		if testutil.FileExists(filepath.Join(dir, unwanted)) {
			t.Errorf("%s should not exist", unwanted)
		}
	}
}

func TestSync_SkipsOutputRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rules := newRules(t, dir, []string{"**/*.txt"}, nil)
	testutil.WriteTree(t, dir, map[string]string{
		"notes.txt":          "n",
		"dist/a/old.txt":     "stale output",
		".serverless/x.txt":  "archive dir",
		"node_modules/m.txt": "dep",
	})

	var (
		mu     sync.Mutex
		copied []string
	)
	w, err := New(Config{
		Rules:   rules,
		BaseDir: dir,
		Ignore:  append(IgnoreDir("dist"), IgnoreDir(".serverless")...),
		Copier: func(src, _ string) error {
			mu.Lock()
			defer mu.Unlock()
			copied = append(copied, filepath.Base(src))
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	slices.Sort(copied)
	// notes.txt fans out to both targets.
	if want := []string{"notes.txt", "notes.txt"}; !slices.Equal(copied, want) {
		t.Errorf("copied = %v, want %v", copied, want)
	}
}

func TestSync_CopyFailureIsLogged(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rules := newRules(t, dir, []string{"static/*"}, nil)
	testutil.WriteTree(t, dir, map[string]string{"static/a.txt": "a"})

	var attempts atomic.Int32
	w, err := New(Config{
		Rules:   rules,
		BaseDir: dir,
		Copier: func(string, string) error {
			attempts.Add(1)
			return errors.New("disk full")
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v, copy failures must not be fatal", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}

func TestSync_ConcurrencyCap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rules := newRules(t, dir, []string{"static/*"}, nil)
	files := map[string]string{}
	for _, n := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		files["static/"+n+".txt"] = n
	}
	testutil.WriteTree(t, dir, files)

	counter := testutil.InFlight{Hold: 10 * time.Millisecond}
	w, err := New(Config{
		Rules:       rules,
		BaseDir:     dir,
		Concurrency: 3,
		Copier: func(string, string) error {
			done := counter.Enter()
			defer done()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if counter.Total() != 16 {
		t.Errorf("copies = %d, want 16", counter.Total())
	}
	if counter.Peak() > 3 {
		t.Errorf("peak = %d, want <= 3", counter.Peak())
	}
}

func TestStart_IncrementalCopies(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rules := newRules(t, dir, []string{"static/**"}, map[string][]string{"fn2": {"asset/*:individual"}})
	testutil.WriteTree(t, dir, map[string]string{
		"static/first.txt": "first",
		"asset/keep.txt":   "keep",
	})

	var batches atomic.Int32
	w, err := New(Config{
		Rules:    rules,
		BaseDir:  dir,
		Ignore:   IgnoreDir("dist"),
		Debounce: 20 * time.Millisecond,
		OnBatch:  func() { batches.Add(1) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})

	// Initial sync is complete when Start returns and does not count as a batch.
	if !testutil.FileExists(filepath.Join(dir, "dist/a/static/first.txt")) {
		t.Fatal("initial sync did not copy static/first.txt")
	}
	if batches.Load() != 0 {
		t.Errorf("batches after Start = %d, want 0", batches.Load())
	}

	testutil.MustWriteFile(t, filepath.Join(dir, "static", "second.txt"), "second")
	testutil.MustWriteFile(t, filepath.Join(dir, "asset", "new.txt"), "new")

	testutil.Eventually(t, waitTimeout, func() bool {
		return testutil.FileExists(filepath.Join(dir, "dist/a/static/second.txt")) &&
			testutil.FileExists(filepath.Join(dir, "dist/b/static/second.txt")) &&
			testutil.FileExists(filepath.Join(dir, "dist/b/individual/new.txt"))
	}, "incremental copies")
	testutil.Eventually(t, waitTimeout, func() bool { return batches.Load() >= 1 }, "batch callback")

	if testutil.FileExists(filepath.Join(dir, "dist/a/individual/new.txt")) {
		t.Error("fn2-scoped asset leaked into fn1")
	}

	// Directories created after Start are watched too.
	testutil.MustWriteFile(t, filepath.Join(dir, "static", "nested", "deep.txt"), "deep")
	testutil.Eventually(t, waitTimeout, func() bool {
		return testutil.FileExists(filepath.Join(dir, "dist/a/static/nested/deep.txt"))
	}, "copy from new directory")

	// Rewriting a file updates the copy.
	testutil.MustWriteFile(t, filepath.Join(dir, "static", "first.txt"), "changed")
	testutil.Eventually(t, waitTimeout, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "dist/b/static/first.txt"))
		return err == nil && string(data) == "changed"
	}, "updated copy")
}

func TestDrain_WaitsForPendingBatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rules := newRules(t, dir, []string{"static/*"}, nil)
	testutil.MustMkdirAll(t, filepath.Join(dir, "static"), 0o755)

	w, err := New(Config{
		Rules:    rules,
		BaseDir:  dir,
		Ignore:   IgnoreDir("dist"),
		Debounce: time.Hour,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop() //nolint:errcheck // test cleanup

	testutil.MustWriteFile(t, filepath.Join(dir, "static", "late.txt"), "late")
	// The event must reach the dispatcher before Drain can flush it.
	testutil.Eventually(t, waitTimeout, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.pending) > 0
	}, "event queued")

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := w.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !testutil.FileExists(filepath.Join(dir, "dist/a/static/late.txt")) {
		t.Error("Drain returned before the pending copy finished")
	}
	if w.Pending() != 0 {
		t.Errorf("Pending() = %d after Drain", w.Pending())
	}
}

func TestFlush_HeldUntilInitialSyncCompletes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rules := newRules(t, dir, []string{"static/*"}, nil)
	testutil.MustWriteFile(t, filepath.Join(dir, "static", "early.txt"), "early")

	var batches atomic.Int32
	w, err := New(Config{
		Rules:    rules,
		BaseDir:  dir,
		Ignore:   IgnoreDir("dist"),
		Debounce: 10 * time.Millisecond,
		OnBatch:  func() { batches.Add(1) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Stop() //nolint:errcheck // test cleanup

	// An event seen while the initial sync is still copying.
	w.enqueue("static/early.txt")
	time.Sleep(100 * time.Millisecond)

	dst := filepath.Join(dir, "dist/a/static/early.txt")
	if testutil.FileExists(dst) || batches.Load() != 0 {
		t.Fatal("batch ran before the initial sync completed")
	}
	w.mu.Lock()
	held := len(w.pending)
	w.mu.Unlock()
	if held != 1 {
		t.Fatalf("pending = %d, want the event held", held)
	}

	w.markReady()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := w.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !testutil.FileExists(dst) {
		t.Error("held event was not copied once ready")
	}
	testutil.Eventually(t, waitTimeout, func() bool { return batches.Load() == 1 }, "one batch after ready")
}

func TestStart_AfterStop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := New(Config{Rules: newRules(t, dir, []string{"static/*"}, nil), BaseDir: dir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start() after Stop = %v, want ErrStopped", err)
	}
}

func TestNew_InvalidIgnore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := New(Config{Rules: newRules(t, dir, nil, nil), BaseDir: dir, Ignore: []string{"[unclosed"}})
	if err == nil {
		t.Fatal("New() expected error for invalid ignore pattern")
	}
}

func TestCopyFile_KeepsMode(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not preserved on Windows")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "run.sh")
	if err := os.WriteFile(src, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "out", "nested", "run.sh")
	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile() error = %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755", info.Mode().Perm())
	}
	if got := testutil.MustReadFile(t, dst); got != "#!/bin/sh\n" {
		t.Errorf("content = %q", got)
	}
}
