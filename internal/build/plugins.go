// SPDX-License-Identifier: MPL-2.0

package build

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"golang.org/x/exp/maps"
)

const (
	// PluginNodeProtocolExternal keeps "node:*" imports external.
	PluginNodeProtocolExternal = "node-protocol-external"
	// PluginURLExternal keeps http(s):// imports external.
	PluginURLExternal = "url-external"
)

// ErrUnknownPlugin is the sentinel wrapped by UnknownPluginError.
var ErrUnknownPlugin = errors.New("unknown plugin")

// UnknownPluginError is returned when the configuration names a plugin that
// is not built in.
type UnknownPluginError struct {
	Name string
}

var builtinPlugins = map[string]func() api.Plugin{
	PluginNodeProtocolExternal: func() api.Plugin { return externalPlugin(PluginNodeProtocolExternal, `^node:`) },
	PluginURLExternal:          func() api.Plugin { return externalPlugin(PluginURLExternal, `^https?://`) },
}

// Error implements the error interface for UnknownPluginError.
func (e *UnknownPluginError) Error() string {
	return fmt.Sprintf("unknown plugin %q (available: %s)", e.Name, strings.Join(PluginNames(), ", "))
}

// Unwrap returns ErrUnknownPlugin for errors.Is() compatibility.
func (e *UnknownPluginError) Unwrap() error { return ErrUnknownPlugin }

// PluginNames returns the built-in plugin names, sorted.
func PluginNames() []string {
	names := maps.Keys(builtinPlugins)
	slices.Sort(names)
	return names
}

// resolvePlugins instantiates the named built-in plugins in order.
func resolvePlugins(names []string) ([]api.Plugin, error) {
	plugins := make([]api.Plugin, 0, len(names))
	for _, name := range names {
		factory, ok := builtinPlugins[name]
		if !ok {
			return nil, &UnknownPluginError{Name: name}
		}
		plugins = append(plugins, factory())
	}
	return plugins, nil
}

// externalPlugin marks every import path matching filter as external.
func externalPlugin(name, filter string) api.Plugin {
	return api.Plugin{
		Name: name,
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: filter},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:     args.Path,
						External: true,
					}, nil
				})
		},
	}
}
