// SPDX-License-Identifier: MPL-2.0

package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the service definition looked up when no path is given.
const DefaultFileName = "serverless.yml"

// DefaultStage is the stage used when neither the CLI nor the provider sets one.
const DefaultStage = "dev"

var (
	// ErrNoFunctions is returned when a service declares no functions.
	ErrNoFunctions = errors.New("service declares no functions")
	// ErrInvalidFunction is the sentinel wrapped by InvalidFunctionError.
	ErrInvalidFunction = errors.New("invalid function definition")
)

type (
	// Service is a serverless.yml. The fields the bundler reads are modelled;
	// every other key is kept in Extra so writing the service back loses nothing.
	Service struct {
		Name      string               `yaml:"service"`
		Provider  Provider             `yaml:"provider"`
		Package   *Package             `yaml:"package,omitempty"`
		Functions map[string]*Function `yaml:"functions"`
		Custom    map[string]any       `yaml:"custom,omitempty"`
		Plugins   []string             `yaml:"plugins,omitempty"`
		Extra     map[string]any       `yaml:",inline"`

		path string
	}

	// Provider holds the provider block fields that influence bundling.
	Provider struct {
		Name    string `yaml:"name,omitempty"`
		Runtime string `yaml:"runtime,omitempty"`
		Stage   string `yaml:"stage,omitempty"`
		Region  string `yaml:"region,omitempty"`

		Extra map[string]any `yaml:",inline"`
	}

	// Package mirrors the serverless package block, used both service-wide
	// and per function.
	Package struct {
		Patterns     []string `yaml:"patterns,omitempty"`
		Artifact     string   `yaml:"artifact,omitempty"`
		Individually bool     `yaml:"individually,omitempty"`

		Extra map[string]any `yaml:",inline"`
	}

	// Function is a single function definition. Handler is rewritten in place
	// while the bundler owns the service.
	Function struct {
		Handler string   `yaml:"handler"`
		Package *Package `yaml:"package,omitempty"`
		Events  []any    `yaml:"events,omitempty"`
		Timeout int      `yaml:"timeout,omitempty"`

		Extra map[string]any `yaml:",inline"`

		// declared is the handler as written while Handler points at
		// compiled output; empty otherwise.
		declared string
	}

	// InvalidFunctionError is returned when a function definition cannot be bundled.
	InvalidFunctionError struct {
		Name   string
		Reason string
	}
)

// Error implements the error interface for InvalidFunctionError.
func (e *InvalidFunctionError) Error() string {
	return fmt.Sprintf("function %q: %s", e.Name, e.Reason)
}

// Unwrap returns ErrInvalidFunction for errors.Is() compatibility.
func (e *InvalidFunctionError) Unwrap() error { return ErrInvalidFunction }

// Load reads and validates the service definition at path.
func Load(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service definition: %w", err)
	}

	svc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	svc.path = path

	return svc, nil
}

// Parse decodes a service definition from YAML bytes.
func Parse(data []byte) (*Service, error) {
	var svc Service
	if err := yaml.Unmarshal(data, &svc); err != nil {
		return nil, fmt.Errorf("failed to parse service definition: %w", err)
	}
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	return &svc, nil
}

// Validate checks the function map for definitions the bundler cannot handle.
func (s *Service) Validate() error {
	if len(s.Functions) == 0 {
		return ErrNoFunctions
	}

	var errs []error
	for _, name := range s.FunctionNames() {
		fn := s.Functions[name]
		switch {
		case fn == nil:
			errs = append(errs, &InvalidFunctionError{Name: name, Reason: "definition is empty"})
		case strings.TrimSpace(fn.Handler) == "":
			errs = append(errs, &InvalidFunctionError{Name: name, Reason: "handler is required"})
		}
	}
	return errors.Join(errs...)
}

// Path returns the file the service was loaded from, if any.
func (s *Service) Path() string { return s.path }

// FunctionNames returns the declared function names in sorted order.
func (s *Service) FunctionNames() []string {
	names := make([]string, 0, len(s.Functions))
	for name := range s.Functions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stage returns the effective stage: override if set, then provider.stage,
// then DefaultStage.
func (s *Service) Stage(override string) string {
	if override != "" {
		return override
	}
	if s.Provider.Stage != "" {
		return s.Provider.Stage
	}
	return DefaultStage
}

// Patterns returns the service-wide package patterns.
func (s *Service) Patterns() []string {
	if s.Package == nil {
		return nil
	}
	return s.Package.Patterns
}

// Patterns returns the function's own package patterns.
func (f *Function) Patterns() []string {
	if f.Package == nil {
		return nil
	}
	return f.Package.Patterns
}

// DeclaredHandler returns the handler as written in the service definition,
// even while Handler is rewritten.
func (f *Function) DeclaredHandler() string {
	if f.declared != "" {
		return f.declared
	}
	return f.Handler
}

// RewriteHandler points Handler at compiled output. The declared handler is
// remembered across repeated rewrites.
func (f *Function) RewriteHandler(compiled string) {
	if f.declared == "" {
		f.declared = f.Handler
	}
	f.Handler = compiled
}

// RestoreHandler puts the declared handler back.
func (f *Function) RestoreHandler() {
	if f.declared != "" {
		f.Handler = f.declared
		f.declared = ""
	}
}

// SetArtifact records the deployable artifact for the function.
func (f *Function) SetArtifact(path string) {
	if f.Package == nil {
		f.Package = &Package{}
	}
	f.Package.Artifact = path
}

// Encode writes the service as YAML, including any artifacts recorded by
// packaging.
func (s *Service) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode service definition: %w", err)
	}
	return enc.Close()
}

// WriteFile writes the service definition to path.
func (s *Service) WriteFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create service file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return s.Encode(f)
}
