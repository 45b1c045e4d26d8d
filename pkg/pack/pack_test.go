// SPDX-License-Identifier: MPL-2.0

package pack

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"
	"time"

	"github.com/invowk/slsbundle/internal/testutil"
)

func sourceTree(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "dist", "b")
	testutil.WriteTree(t, dir, map[string]string{
		"src/b.js":                  "export const handler = 1;\n",
		"static/static.txt":         "static",
		"individual/individual.txt": "individual",
		"package.json":              `{"name":"stale"}`,
	})
	return dir
}

func TestArchive_LayoutAndManifest(t *testing.T) {
	t.Parallel()

	src := sourceTree(t)
	zipPath := filepath.Join(t.TempDir(), ".serverless", "fn2.zip")

	if err := Archive(Descriptor{FunctionName: "fn2", SourceDir: src, ZipPath: zipPath}); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	names, entries := testutil.ReadZip(t, zipPath)
	want := []string{
		"individual/individual.txt",
		"src/b.js",
		"static/static.txt",
		"package.json",
	}
	if !slices.Equal(names, want) {
		t.Errorf("entries = %v, want %v", names, want)
	}

	manifest := entries["package.json"]
	if manifest.Data != "{\n  \"name\": \"fn2\",\n  \"type\": \"module\"\n}" {
		t.Errorf("manifest = %q", manifest.Data)
	}
	if manifest.Mode.Perm() != 0o644 {
		t.Errorf("manifest mode = %v, want 0644", manifest.Mode.Perm())
	}

	for name, e := range entries {
		if !e.Modified.Equal(Epoch) {
			t.Errorf("%s modified = %v, want %v", name, e.Modified, Epoch)
		}
	}
	if testutil.FileExists(zipPath + ".tmp") {
		t.Error("temporary archive left behind")
	}
}

func TestArchive_Deterministic(t *testing.T) {
	t.Parallel()

	src := sourceTree(t)
	out := t.TempDir()
	first := filepath.Join(out, "first.zip")
	second := filepath.Join(out, "second.zip")

	if err := Archive(Descriptor{FunctionName: "fn", SourceDir: src, ZipPath: first}); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	// Touch every file so only the filesystem timestamps differ.
	later := time.Now().Add(time.Hour)
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return os.Chtimes(path, later, later)
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := Archive(Descriptor{FunctionName: "fn", SourceDir: src, ZipPath: second}); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	a := testutil.MustReadFile(t, first)
	b := testutil.MustReadFile(t, second)
	if !bytes.Equal([]byte(a), []byte(b)) {
		t.Error("archives of unchanged sources differ")
	}
}

func TestArchive_KeepsPermissionBits(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not preserved on Windows")
	}

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "bin.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	zipPath := filepath.Join(t.TempDir(), "fn.zip")
	if err := Archive(Descriptor{FunctionName: "fn", SourceDir: src, ZipPath: zipPath}); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	_, entries := testutil.ReadZip(t, zipPath)
	if got := entries["bin.sh"].Mode.Perm(); got != 0o755 {
		t.Errorf("bin.sh mode = %v, want 0755", got)
	}
}

func TestArchive_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    Descriptor
		is   error
	}{
		{"empty function", Descriptor{SourceDir: "x", ZipPath: "y"}, ErrInvalidDescriptor},
		{"empty source", Descriptor{FunctionName: "f", ZipPath: "y"}, ErrInvalidDescriptor},
		{"empty zip", Descriptor{FunctionName: "f", SourceDir: "x"}, ErrInvalidDescriptor},
		{"missing source", Descriptor{FunctionName: "f", SourceDir: filepath.Join(t.TempDir(), "nope"), ZipPath: filepath.Join(t.TempDir(), "f.zip")}, os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Archive(tt.d)
			if !errors.Is(err, tt.is) {
				t.Errorf("Archive() error = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestPackAll_ConcurrencyCap(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var descriptors []Descriptor
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		src := filepath.Join(root, "dist", name)
		testutil.MustWriteFile(t, filepath.Join(src, name+".js"), "x")
		descriptors = append(descriptors, Descriptor{
			FunctionName: name,
			SourceDir:    src,
			ZipPath:      filepath.Join(root, ".serverless", name+".zip"),
		})
	}

	if err := NewPackager(2, nil).PackAll(context.Background(), descriptors); err != nil {
		t.Fatalf("PackAll() error = %v", err)
	}
	for _, d := range descriptors {
		names, _ := testutil.ReadZip(t, d.ZipPath)
		if want := []string{d.FunctionName + ".js", ManifestName}; !slices.Equal(names, want) {
			t.Errorf("%s entries = %v, want %v", d.FunctionName, names, want)
		}
	}
}

func TestPackAll_SameArchiveSerialized(t *testing.T) {
	t.Parallel()

	src := sourceTree(t)
	zipPath := filepath.Join(t.TempDir(), "fn.zip")
	d := Descriptor{FunctionName: "fn", SourceDir: src, ZipPath: zipPath}

	// Concurrent writers to the same archive must not corrupt it.
	if err := NewPackager(4, nil).PackAll(context.Background(), []Descriptor{d, d, d, d}); err != nil {
		t.Fatalf("PackAll() error = %v", err)
	}
	names, _ := testutil.ReadZip(t, zipPath)
	if len(names) != 4 {
		t.Errorf("entries = %v", names)
	}
}

func TestPackAll_InvalidDescriptor(t *testing.T) {
	t.Parallel()

	err := NewPackager(0, nil).PackAll(context.Background(), []Descriptor{{FunctionName: "x"}})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("PackAll() error = %v, want ErrInvalidDescriptor", err)
	}
}
