// SPDX-License-Identifier: MPL-2.0

// Package pack writes deterministic per-function zip archives.
//
// Every entry carries the same fixed modification time (Epoch) and entries
// are added in lexical path order, so archiving unchanged sources twice
// produces byte-identical files regardless of filesystem timestamps.
package pack

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const (
	// ManifestName is the manifest file placed at the archive root.
	ManifestName = "package.json"
	// ManifestType marks the archive contents as ES modules.
	ManifestType = "module"

	defaultConcurrency = 8
	manifestMode       = 0o644
)

// Epoch is the modification time stamped on every archive entry. It is the
// earliest time an MS-DOS date field can hold.
var Epoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrInvalidDescriptor is the sentinel wrapped by InvalidDescriptorError.
var ErrInvalidDescriptor = errors.New("invalid archive descriptor")

type (
	// Descriptor names one archive to write.
	Descriptor struct {
		// FunctionName is written into the manifest.
		FunctionName string
		// SourceDir is the directory whose files are archived.
		SourceDir string
		// ZipPath is the archive to create.
		ZipPath string
	}

	// Manifest is the package.json written at the archive root.
	Manifest struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}

	// InvalidDescriptorError is returned for descriptors with missing fields.
	InvalidDescriptorError struct {
		Descriptor Descriptor
		Reason     string
	}

	// ArchiveError wraps a failure to write one function's archive.
	ArchiveError struct {
		FunctionName string
		ZipPath      string
		Err          error
	}

	// Packager writes archives with bounded concurrency and never writes the
	// same archive from two goroutines at once.
	Packager struct {
		concurrency int
		logger      *log.Logger
		locks       sync.Map // zip path -> *sync.Mutex
	}
)

// Error implements the error interface for InvalidDescriptorError.
func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("archive %q: %s", e.Descriptor.FunctionName, e.Reason)
}

// Unwrap returns ErrInvalidDescriptor for errors.Is() compatibility.
func (e *InvalidDescriptorError) Unwrap() error { return ErrInvalidDescriptor }

// Error implements the error interface for ArchiveError.
func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive function %q to %s: %v", e.FunctionName, e.ZipPath, e.Err)
}

// Unwrap returns the underlying error.
func (e *ArchiveError) Unwrap() error { return e.Err }

// Validate checks that every descriptor field is set.
func (d Descriptor) Validate() error {
	switch {
	case d.FunctionName == "":
		return &InvalidDescriptorError{Descriptor: d, Reason: "function name is empty"}
	case d.SourceDir == "":
		return &InvalidDescriptorError{Descriptor: d, Reason: "source directory is empty"}
	case d.ZipPath == "":
		return &InvalidDescriptorError{Descriptor: d, Reason: "zip path is empty"}
	}
	return nil
}

// NewPackager creates a Packager. A concurrency below one falls back to the
// default of 8.
func NewPackager(concurrency int, logger *log.Logger) *Packager {
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Packager{concurrency: concurrency, logger: logger}
}

// PackAll writes every archive. The first failure cancels the archives not yet
// started and is returned.
func (p *Packager) PackAll(ctx context.Context, descriptors []Descriptor) error {
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, d := range descriptors {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return p.Pack(d)
		})
	}
	return g.Wait()
}

// Pack writes one archive while holding that archive's lock.
func (p *Packager) Pack(d Descriptor) error {
	lock, _ := p.locks.LoadOrStore(filepath.Clean(d.ZipPath), &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if err := Archive(d); err != nil {
		return err
	}
	p.logger.Info("packaged", "function", d.FunctionName, "zip", d.ZipPath)
	return nil
}

// Archive writes d.SourceDir into d.ZipPath followed by the manifest. The
// archive is assembled in a temporary file that is renamed into place only
// after it has been fully written and closed.
func Archive(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := archive(d); err != nil {
		return &ArchiveError{FunctionName: d.FunctionName, ZipPath: d.ZipPath, Err: err}
	}
	return nil
}

func archive(d Descriptor) (err error) {
	info, err := os.Stat(d.SourceDir)
	if err != nil {
		return fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", d.SourceDir)
	}

	if err := os.MkdirAll(filepath.Dir(d.ZipPath), 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	tmpPath := d.ZipPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(f)
	if err := addTree(zw, d.SourceDir); err != nil {
		return err
	}
	if err := addManifest(zw, d.FunctionName); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpPath, d.ZipPath); err != nil {
		return fmt.Errorf("move archive into place: %w", err)
	}
	return nil
}

// addTree adds every regular file below root in lexical order. A package.json
// at the root is skipped because the manifest replaces it.
func addTree(zw *zip.Writer, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		name := filepath.ToSlash(rel)
		if name == ManifestName {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		w, err := zw.CreateHeader(header(name, info.Mode().Perm()))
		if err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(w, src); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return nil
	})
}

func addManifest(zw *zip.Writer, functionName string) error {
	data, err := ManifestFor(functionName)
	if err != nil {
		return err
	}
	w, err := zw.CreateHeader(header(ManifestName, manifestMode))
	if err != nil {
		return fmt.Errorf("add manifest: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ManifestFor renders the manifest for a function.
func ManifestFor(functionName string) ([]byte, error) {
	data, err := json.MarshalIndent(Manifest{Name: functionName, Type: ManifestType}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

func header(name string, perm fs.FileMode) *zip.FileHeader {
	h := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: Epoch,
	}
	h.SetMode(perm)
	return h
}
