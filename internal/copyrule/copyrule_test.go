// SPDX-License-Identifier: MPL-2.0

package copyrule

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/invowk/slsbundle/internal/entry"
	"github.com/invowk/slsbundle/internal/service"
)

func testRegistry(t *testing.T) *entry.Registry {
	t.Helper()
	svc := &service.Service{Functions: map[string]*service.Function{
		"fn1": {Handler: "src/a.handler"},
		"fn2": {Handler: "src/b.handler"},
	}}
	reg, err := entry.NewResolver(t.TempDir(), "dist").Resolve(svc)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	return reg
}

func destinations(copies []Copy) []string {
	out := make([]string, 0, len(copies))
	for _, c := range copies {
		out = append(out, c.Destination)
	}
	slices.Sort(out)
	return out
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw      string
		wantGlob string
		wantBase string
		wantDest string
		wantExcl bool
	}{
		{"static/*", "static/*", "static", "", false},
		{"asset/*:individual", "asset/*", "asset", "individual", false},
		{"./static/**/*.txt", "static/**/*.txt", "static", "", false},
		{"*.json", "*.json", ".", "", false},
		{"!static/secret.txt", "static/secret.txt", "static", "", true},
		{"asset/*:nested/dir/", "asset/*", "asset", "nested/dir", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			r, err := Parse(tt.raw, Scope{})
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if r.Pattern != tt.wantGlob || r.Base != tt.wantBase || r.Destination != tt.wantDest || r.Exclude != tt.wantExcl {
				t.Errorf("Parse(%q) = {%q %q %q %v}, want {%q %q %q %v}", tt.raw,
					r.Pattern, r.Base, r.Destination, r.Exclude,
					tt.wantGlob, tt.wantBase, tt.wantDest, tt.wantExcl)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "static/[", "/etc/*", "asset/*:../escape", "!asset/*:dest", "asset/{a,b"} {
		t.Run(raw, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(raw, Scope{})
			if !errors.Is(err, ErrInvalidPattern) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidPattern", raw, err)
			}
		})
	}
}

func TestCompile_GlobalFansOut(t *testing.T) {
	t.Parallel()

	set, err := Compile([]string{"static/*"}, nil, testRegistry(t))
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	got := destinations(set.Match("static/global.txt"))
	want := []string{"dist/a/static/global.txt", "dist/b/static/global.txt"}
	if !slices.Equal(got, want) {
		t.Errorf("Match() = %v, want %v", got, want)
	}

	if got := set.Match("src/a.js"); len(got) != 0 {
		t.Errorf("unmatched path produced copies: %v", got)
	}
}

func TestCompile_PerFunctionExclusive(t *testing.T) {
	t.Parallel()

	set, err := Compile(
		[]string{"static/*"},
		map[string][]string{"fn2": {"asset/*:individual"}},
		testRegistry(t),
	)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	got := destinations(set.Match("asset/individual.txt"))
	want := []string{"dist/b/individual/individual.txt"}
	if !slices.Equal(got, want) {
		t.Errorf("Match() = %v, want %v", got, want)
	}

	if roots := set.Roots(); !slices.Equal(roots, []string{"asset", "static"}) {
		t.Errorf("Roots() = %v", roots)
	}
	bound := make(map[string][]string)
	for _, r := range set.Rules() {
		bound[r.Pattern] = r.OutputDirs()
	}
	if got := bound["static/*"]; !slices.Equal(got, []string{"dist/a", "dist/b"}) {
		t.Errorf("static/* bound to %v, want every output directory", got)
	}
	if got := bound["asset/*"]; !slices.Equal(got, []string{"dist/b"}) {
		t.Errorf("asset/* bound to %v, want only fn2's output directory", got)
	}
}

func TestCompile_Exclusions(t *testing.T) {
	t.Parallel()

	set, err := Compile(
		[]string{"static/**", "!static/**/*.map"},
		map[string][]string{"fn1": {"extra/*", "!extra/skip.txt"}},
		testRegistry(t),
	)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	if got := set.Match("static/app.js.map"); len(got) != 0 {
		t.Errorf("globally excluded file produced copies: %v", got)
	}
	if got := set.Match("extra/skip.txt"); len(got) != 0 {
		t.Errorf("function-excluded file produced copies: %v", got)
	}
	if got := destinations(set.Match("extra/keep.txt")); !slices.Equal(got, []string{"dist/a/extra/keep.txt"}) {
		t.Errorf("Match(extra/keep.txt) = %v", got)
	}
	if got := destinations(set.Match("static/nested/a.txt")); len(got) != 2 {
		t.Errorf("Match(static/nested/a.txt) = %v, want two destinations", got)
	}
}

func TestCompile_PureGlobFallsBackToOwnDirectory(t *testing.T) {
	t.Parallel()

	set, err := Compile([]string{"**/*.txt"}, nil, testRegistry(t))
	if err != nil {
		t.Fatal(err)
	}
	got := destinations(set.Match("docs/readme.txt"))
	want := []string{"dist/a/docs/readme.txt", "dist/b/docs/readme.txt"}
	if !slices.Equal(got, want) {
		t.Errorf("Match() = %v, want %v", got, want)
	}
}

func TestCompile_Errors(t *testing.T) {
	t.Parallel()

	_, err := Compile([]string{"static/["}, map[string][]string{"missing": {"a/*"}}, testRegistry(t))
	if !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("error = %v, want ErrInvalidPattern", err)
	}
	if err == nil || !strings.Contains(err.Error(), "unknown function \"missing\"") {
		t.Errorf("error should mention the unknown function, got %v", err)
	}
}

func TestMatch_Stable(t *testing.T) {
	t.Parallel()

	set, err := Compile([]string{"static/*"}, map[string][]string{"fn1": {"static/*"}}, testRegistry(t))
	if err != nil {
		t.Fatal(err)
	}
	first := destinations(set.Match("static/x.txt"))
	second := destinations(set.Match("static/x.txt"))
	if !slices.Equal(first, second) {
		t.Errorf("Match() not stable: %v vs %v", first, second)
	}
	if len(first) != 2 {
		t.Errorf("duplicate destinations not collapsed: %v", first)
	}
}
