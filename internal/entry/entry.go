// SPDX-License-Identifier: MPL-2.0

// Package entry maps declared functions to bundle targets.
//
// Each function handler ("path/to/file.export") becomes a Target with its own
// output directory derived from the handler file's base name. Resolving
// rewrites the handler on the function definition to point at the compiled
// output, so the host framework finds the bundled file; the original handler
// is kept on the Target and restored after packaging.
package entry

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/invowk/slsbundle/internal/service"
)

// DefaultOutDir is the root directory for compiled output.
const DefaultOutDir = "dist"

// sourceExtensions are tried in order to find a handler's entry file.
var sourceExtensions = []string{".ts", ".mts", ".js", ".mjs"}

var (
	// ErrInvalidHandler is the sentinel wrapped by InvalidHandlerError.
	ErrInvalidHandler = errors.New("invalid handler")
	// ErrOutputCollision is the sentinel wrapped by OutputCollisionError.
	ErrOutputCollision = errors.New("output directory collision")
)

type (
	// Target is one function's compiled-output unit.
	Target struct {
		// Name is the function name.
		Name string
		// DeclaredHandler is the handler as written in the service definition.
		DeclaredHandler string
		// OriginalHandler is restored onto the function after packaging.
		OriginalHandler string
		// Export is the exported symbol named by the handler.
		Export string
		// BaseName is the handler file's base name; it names the output directory.
		BaseName string
		// EntryFile is the source file handed to the bundler, slash-separated
		// and relative to the working directory.
		EntryFile string
		// OutputDir is the slash-separated directory receiving this target's
		// compiled output and copied assets.
		OutputDir string

		// handlerFile is the cleaned handler path without extension or export.
		handlerFile string
	}

	// Registry is the set of resolved targets, owned by one orchestrator run.
	Registry struct {
		targets map[string]*Target
		order   []string
	}

	// Resolver builds a Registry from a service and rewrites its handlers.
	Resolver struct {
		// WorkDir is the directory handler paths are relative to.
		WorkDir string
		// OutDir is the compiled output root (relative to WorkDir).
		OutDir string

		registry *Registry
	}

	// InvalidHandlerError is returned when a handler string cannot be split
	// into a file path and an export name.
	InvalidHandlerError struct {
		Function string
		Handler  string
	}

	// OutputCollisionError is returned when two different entry files would
	// write into the same output directory.
	OutputCollisionError struct {
		Dir    string
		First  string
		Second string
	}
)

// Error implements the error interface for InvalidHandlerError.
func (e *InvalidHandlerError) Error() string {
	return fmt.Sprintf("function %q: handler %q must have the form path/to/file.export", e.Function, e.Handler)
}

// Unwrap returns ErrInvalidHandler for errors.Is() compatibility.
func (e *InvalidHandlerError) Unwrap() error { return ErrInvalidHandler }

// Error implements the error interface for OutputCollisionError.
func (e *OutputCollisionError) Error() string {
	return fmt.Sprintf("%s and %s would both be bundled into %s; rename one of the handler files", e.First, e.Second, e.Dir)
}

// Unwrap returns ErrOutputCollision for errors.Is() compatibility.
func (e *OutputCollisionError) Unwrap() error { return ErrOutputCollision }

// SplitHandler splits "path/to/file.export" at the last dot of its final
// path element.
func SplitHandler(handler string) (filePath, export string, ok bool) {
	handler = strings.TrimSpace(handler)
	slash := strings.LastIndex(handler, "/")
	dot := strings.LastIndex(handler, ".")
	if dot <= slash+1 || dot == len(handler)-1 {
		return "", "", false
	}
	return handler[:dot], handler[dot+1:], true
}

// NewResolver creates a Resolver for the given working and output directories.
func NewResolver(workDir, outDir string) *Resolver {
	if outDir == "" {
		outDir = DefaultOutDir
	}
	return &Resolver{WorkDir: workDir, OutDir: filepath.ToSlash(path.Clean(outDir))}
}

// Resolve builds the Registry for svc and rewrites each function handler to
// its compiled location. Calling Resolve again returns the same Registry
// without touching the handlers.
func (r *Resolver) Resolve(svc *service.Service) (*Registry, error) {
	if r.registry != nil {
		return r.registry, nil
	}

	reg := &Registry{targets: make(map[string]*Target, len(svc.Functions))}
	owners := make(map[string]*Target)

	for _, name := range svc.FunctionNames() {
		fn := svc.Functions[name]
		if fn == nil {
			return nil, &InvalidHandlerError{Function: name}
		}

		declared := fn.DeclaredHandler()

		filePath, export, ok := SplitHandler(declared)
		if !ok {
			return nil, &InvalidHandlerError{Function: name, Handler: declared}
		}

		filePath = strings.TrimPrefix(path.Clean(filepath.ToSlash(filePath)), "./")
		base := path.Base(filePath)
		t := &Target{
			Name:            name,
			DeclaredHandler: declared,
			OriginalHandler: declared,
			Export:          export,
			BaseName:        base,
			EntryFile:       r.entryFile(filePath),
			OutputDir:       path.Join(r.OutDir, base),
			handlerFile:     filePath,
		}

		if owner, exists := owners[t.OutputDir]; exists && owner.EntryFile != t.EntryFile {
			return nil, &OutputCollisionError{Dir: t.OutputDir, First: owner.EntryFile, Second: t.EntryFile}
		}
		owners[t.OutputDir] = t

		reg.targets[name] = t
		reg.order = append(reg.order, name)
	}

	for _, t := range reg.Targets() {
		svc.Functions[t.Name].RewriteHandler(t.CompiledHandler())
	}

	r.registry = reg
	return reg, nil
}

// CompiledHandler returns the handler string pointing into the output directory.
func (t *Target) CompiledHandler() string {
	return t.OutputDir + "/" + t.handlerFile + "." + t.Export
}

// CompiledFile returns the path of the compiled entry file.
func (t *Target) CompiledFile() string {
	ext := path.Ext(t.EntryFile)
	out := strings.TrimSuffix(t.EntryFile, ext) + ".js"
	return path.Join(t.OutputDir, out)
}

// entryFile finds the first existing source file for filePath, falling back
// to the .js extension.
func (r *Resolver) entryFile(filePath string) string {
	if ext := path.Ext(filePath); slices.Contains(sourceExtensions, ext) {
		if _, err := os.Stat(filepath.Join(r.WorkDir, filepath.FromSlash(filePath))); err == nil {
			return filePath
		}
	}
	for _, ext := range sourceExtensions {
		candidate := filePath + ext
		if _, err := os.Stat(filepath.Join(r.WorkDir, filepath.FromSlash(candidate))); err == nil {
			return candidate
		}
	}
	return filePath + ".js"
}

// Get returns the target for a function name.
func (g *Registry) Get(name string) (*Target, bool) {
	t, ok := g.targets[name]
	return t, ok
}

// Len returns the number of targets.
func (g *Registry) Len() int { return len(g.order) }

// Targets returns the targets in function-name order.
func (g *Registry) Targets() []*Target {
	out := make([]*Target, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.targets[name])
	}
	return out
}

// OutputDirs returns the distinct output directories in target order.
func (g *Registry) OutputDirs() []string {
	var dirs []string
	for _, t := range g.Targets() {
		if !slices.Contains(dirs, t.OutputDir) {
			dirs = append(dirs, t.OutputDir)
		}
	}
	return dirs
}

// EntryPoints returns the distinct entry files in target order.
func (g *Registry) EntryPoints() []string {
	var entries []string
	for _, t := range g.Targets() {
		if !slices.Contains(entries, t.EntryFile) {
			entries = append(entries, t.EntryFile)
		}
	}
	return entries
}
