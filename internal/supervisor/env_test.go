// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/invowk/slsbundle/internal/testutil"
)

func TestChildEnv_Precedence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := filepath.Join(dir, "a.env")
	second := filepath.Join(dir, "b.env")
	testutil.MustWriteFile(t, first, "A=from-a\nB=from-a\n")
	testutil.MustWriteFile(t, second, "B=from-b\n")

	env, missing, err := childEnv(
		[]string{"A=parent", "PATH=/bin", OfflineEnv + "=false"},
		[]string{first, second, filepath.Join(dir, "none.env")},
		map[string]string{"C": "extra"},
	)
	if err != nil {
		t.Fatalf("childEnv() error = %v", err)
	}

	get := lookup(env)
	tests := map[string]string{
		"A":         "from-a",
		"B":         "from-b",
		"C":         "extra",
		"PATH":      "/bin",
		OfflineEnv:  "true",
		DisabledEnv: "1",
	}
	for k, want := range tests {
		if got := get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if !slices.Equal(missing, []string{filepath.Join(dir, "none.env")}) {
		t.Errorf("missing = %v", missing)
	}

	seen := map[string]bool{}
	for _, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		if seen[k] {
			t.Errorf("variable %q appears more than once", k)
		}
		seen[k] = true
	}
}

func TestChildEnv_MalformedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.env")
	testutil.MustWriteFile(t, bad, "KEY='unterminated\n")

	if _, _, err := childEnv(nil, []string{bad}, nil); err == nil {
		t.Error("childEnv() expected error for malformed dotenv file")
	}
}
