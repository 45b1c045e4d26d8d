// SPDX-License-Identifier: MPL-2.0

// Package copyrule compiles static-file copy patterns into rules that map a
// source path to its destinations inside bundle output directories.
//
// A pattern is "glob" or "glob:destination". Without a destination the
// matched file keeps its path relative to the working directory. With one,
// the part of the path below the glob's literal base directory is placed under
// the destination. A leading "!" turns the pattern into an exclusion. Global
// rules fan out to every target; per-function rules to exactly one.
package copyrule

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/invowk/slsbundle/internal/entry"
)

// ErrInvalidPattern is the sentinel wrapped by InvalidPatternError.
var ErrInvalidPattern = errors.New("invalid copy pattern")

type (
	// Scope identifies which targets a rule applies to. The zero value is
	// the global scope.
	Scope struct {
		Function string
	}

	// Rule is a compiled copy pattern. Rules are immutable once compiled.
	Rule struct {
		// Pattern is the doublestar glob, slash-separated and relative to
		// the working directory.
		Pattern string
		// Base is the literal directory prefix of Pattern ("." when none).
		Base string
		// Destination is the explicit destination subpath, empty when the
		// file keeps its own relative path.
		Destination string
		// Exclude marks a negated pattern.
		Exclude bool
		// Scope selects the targets the rule applies to.
		Scope Scope

		outputDirs []string
	}

	// Copy is a single source to destination pair produced by a match.
	Copy struct {
		Source      string
		Destination string
	}

	// Set is the full collection of compiled rules for one orchestrator run.
	Set struct {
		rules []*Rule
	}

	// InvalidPatternError is returned when a copy pattern cannot be compiled.
	InvalidPatternError struct {
		Pattern string
		Reason  string
	}
)

// Error implements the error interface for InvalidPatternError.
func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid copy pattern %q: %s", e.Pattern, e.Reason)
}

// Unwrap returns ErrInvalidPattern for errors.Is() compatibility.
func (e *InvalidPatternError) Unwrap() error { return ErrInvalidPattern }

// IsGlobal reports whether the scope is global.
func (s Scope) IsGlobal() bool { return s.Function == "" }

// String returns "global" or the function name.
func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return s.Function
}

// Parse compiles a single pattern for the given scope without binding it to
// output directories.
func Parse(raw string, scope Scope) (*Rule, error) {
	text := strings.TrimSpace(raw)
	exclude := false
	if rest, ok := strings.CutPrefix(text, "!"); ok {
		exclude = true
		text = rest
	}

	glob, dest := text, ""
	if i := strings.LastIndex(text, ":"); i >= 0 {
		glob, dest = text[:i], text[i+1:]
	}
	glob = strings.TrimPrefix(glob, "./")

	switch {
	case glob == "":
		return nil, &InvalidPatternError{Pattern: raw, Reason: "empty glob"}
	case path.IsAbs(glob):
		return nil, &InvalidPatternError{Pattern: raw, Reason: "glob must be relative to the service directory"}
	case !doublestar.ValidatePattern(glob):
		return nil, &InvalidPatternError{Pattern: raw, Reason: "malformed glob"}
	}

	if dest != "" {
		if exclude {
			return nil, &InvalidPatternError{Pattern: raw, Reason: "exclusions cannot have a destination"}
		}
		dest = path.Clean(dest)
		if path.IsAbs(dest) || dest == ".." || strings.HasPrefix(dest, "../") {
			return nil, &InvalidPatternError{Pattern: raw, Reason: "destination must stay inside the output directory"}
		}
	}

	base, _ := doublestar.SplitPattern(glob)
	return &Rule{
		Pattern:     glob,
		Base:        path.Clean(base),
		Destination: dest,
		Exclude:     exclude,
		Scope:       scope,
	}, nil
}

// Compile builds the rule set from service-wide patterns and per-function
// patterns. Global rules are bound to every target's output directory; a
// per-function rule to that function's directory only. All pattern errors are
// reported together.
func Compile(global []string, perFunction map[string][]string, reg *entry.Registry) (*Set, error) {
	set := &Set{}
	var errs []error

	allDirs := reg.OutputDirs()
	for _, raw := range global {
		rule, err := Parse(raw, Scope{})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rule.outputDirs = allDirs
		set.rules = append(set.rules, rule)
	}

	names := make([]string, 0, len(perFunction))
	for name := range perFunction {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		target, ok := reg.Get(name)
		if !ok {
			errs = append(errs, fmt.Errorf("copy patterns declared for unknown function %q", name))
			continue
		}
		for _, raw := range perFunction[name] {
			rule, err := Parse(raw, Scope{Function: name})
			if err != nil {
				errs = append(errs, fmt.Errorf("function %q: %w", name, err))
				continue
			}
			rule.outputDirs = []string{target.OutputDir}
			set.rules = append(set.rules, rule)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return set, nil
}

// Matches reports whether rel (slash-separated, relative to the working
// directory) matches the rule's glob.
func (r *Rule) Matches(rel string) bool {
	ok, err := doublestar.Match(r.Pattern, rel)
	return err == nil && ok
}

// Resolve returns the destination of rel inside outputDir.
func (r *Rule) Resolve(rel, outputDir string) string {
	if r.Destination == "" {
		return path.Join(outputDir, rel)
	}
	sub := rel
	if r.Base != "." {
		sub = strings.TrimPrefix(rel, r.Base+"/")
	}
	return path.Join(outputDir, r.Destination, sub)
}

// OutputDirs returns the output directories the rule is bound to.
func (r *Rule) OutputDirs() []string { return slices.Clone(r.outputDirs) }

// Rules returns the compiled rules in declaration order.
func (s *Set) Rules() []*Rule { return slices.Clone(s.rules) }

// Len returns the number of compiled rules, exclusions included.
func (s *Set) Len() int { return len(s.rules) }

// Match returns every copy rel should produce. Global exclusions suppress
// all rules; a function's exclusions suppress only that function's rules.
// Destinations are deduplicated and returned in rule order.
func (s *Set) Match(rel string) []Copy {
	rel = strings.TrimPrefix(path.Clean(rel), "./")

	excluded := make(map[Scope]bool)
	for _, r := range s.rules {
		if r.Exclude && r.Matches(rel) {
			excluded[r.Scope] = true
		}
	}
	if excluded[Scope{}] {
		return nil
	}

	var copies []Copy
	seen := make(map[string]bool)
	for _, r := range s.rules {
		if r.Exclude || excluded[r.Scope] || !r.Matches(rel) {
			continue
		}
		for _, dir := range r.outputDirs {
			dst := r.Resolve(rel, dir)
			if seen[dst] {
				continue
			}
			seen[dst] = true
			copies = append(copies, Copy{Source: rel, Destination: dst})
		}
	}
	return copies
}

// Roots returns the distinct literal base directories of the include rules,
// i.e. the directories that must be scanned and watched.
func (s *Set) Roots() []string {
	var roots []string
	for _, r := range s.rules {
		if r.Exclude || slices.Contains(roots, r.Base) {
			continue
		}
		roots = append(roots, r.Base)
	}
	slices.Sort(roots)
	return roots
}
