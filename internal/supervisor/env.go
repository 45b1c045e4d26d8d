// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/exp/maps"
)

const (
	// DisabledEnv stops the child from bundling again when it loads the
	// bundler itself.
	DisabledEnv = "SLSBUNDLE_DISABLED"
	// OfflineEnv tells the child it runs locally.
	OfflineEnv = "IS_OFFLINE"
)

// childEnv builds the child environment: the parent environment, then the
// dotenv files in order, then extra, then the fixed supervisor flags. Later
// entries win. Missing dotenv files are reported through missing.
func childEnv(parent []string, envFiles []string, extra map[string]string) (env []string, missing []string, err error) {
	vars := make(map[string]string, len(parent))
	var order []string
	set := func(k, v string) {
		if _, ok := vars[k]; !ok {
			order = append(order, k)
		}
		vars[k] = v
	}

	for _, kv := range parent {
		if k, v, ok := strings.Cut(kv, "="); ok {
			set(k, v)
		}
	}

	for _, file := range envFiles {
		loaded, readErr := godotenv.Read(file)
		if readErr != nil {
			if errors.Is(readErr, fs.ErrNotExist) {
				missing = append(missing, file)
				continue
			}
			return nil, nil, fmt.Errorf("read env file %s: %w", file, readErr)
		}
		keys := maps.Keys(loaded)
		slices.Sort(keys)
		for _, k := range keys {
			set(k, loaded[k])
		}
	}

	keys := maps.Keys(extra)
	slices.Sort(keys)
	for _, k := range keys {
		set(k, extra[k])
	}

	set(DisabledEnv, "1")
	set(OfflineEnv, "true")

	env = make([]string, 0, len(order))
	for _, k := range order {
		env = append(env, k+"="+vars[k])
	}
	return env, missing, nil
}

// lookup returns a getter over a KEY=VALUE list for shell expansion.
func lookup(env []string) func(string) string {
	return func(name string) string {
		for i := len(env) - 1; i >= 0; i-- {
			if k, v, ok := strings.Cut(env[i], "="); ok && k == name {
				return v
			}
		}
		return ""
	}
}
