// SPDX-License-Identifier: MPL-2.0

// Package orchestrator drives one bundling run over a service definition.
//
// An Orchestrator owns the target registry, the compiled copy rules, the
// build engine, the asset watcher and, in dev mode, the supervised child
// process. Its phases (Init, Build, Pack, Dispose) are memoized so the host
// lifecycle hooks can call them in any combination and concurrently; every
// caller of a phase shares one execution and its result.
package orchestrator
