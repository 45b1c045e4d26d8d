// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"archive/zip"
	"io"
	"os"
	"testing"
	"time"
)

// ZipEntry is one file read back from an archive.
type ZipEntry struct {
	Data     string
	Mode     os.FileMode
	Modified time.Time
}

// ReadZip opens the archive at path and returns its entries in archive order
// along with a name index.
func ReadZip(t testing.TB, path string) ([]string, map[string]ZipEntry) {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("failed to open zip %s: %v", path, err)
	}
	defer MustClose(t, r)

	names := make([]string, 0, len(r.File))
	entries := make(map[string]ZipEntry, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open %s in %s: %v", f.Name, path, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatalf("failed to read %s in %s: %v", f.Name, path, err)
		}
		names = append(names, f.Name)
		entries[f.Name] = ZipEntry{Data: string(data), Mode: f.Mode(), Modified: f.Modified}
	}
	return names, entries
}
