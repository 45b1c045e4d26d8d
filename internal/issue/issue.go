// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	ServiceNotFoundId Id = iota + 1
	ServiceParseErrorId
	ConfigLoadFailedId
	InvalidHandlerId
	OutputCollisionId
	InvalidCopyPatternId
	CompileFailedId
	ArchiveFailedId
	DevCommandFailedId
	UnknownEventId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue as terminal markdown. Links are appended as a
// "See also" list.
func (i *Issue) Render(stylePath string) (string, error) {
	var sb strings.Builder
	sb.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		sb.WriteString("\n\n## See also\n")
		for _, link := range append(i.DocLinks(), i.extLinks...) {
			sb.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(sb.String(), stylePath)
}

var (
	render = glamour.Render

	serviceNotFoundIssue = &Issue{
		id: ServiceNotFoundId,
		mdMsg: `
# No service definition found!

slsbundle reads the functions to bundle from a ` + "`serverless.yml`" + `.

## Things you can try:
- Run the command from the service directory
- Or point at the file explicitly:
~~~
$ slsbundle --service path/to/serverless.yml bundle generate
~~~`,
		extLinks: []HttpLink{"https://www.serverless.com/framework/docs/providers/aws/guide/serverless.yml"},
	}

	serviceParseErrorIssue = &Issue{
		id: ServiceParseErrorId,
		mdMsg: `
# Failed to parse the service definition!

The file is not valid YAML, declares no functions, or has a function
without a handler.

## Minimal example:
~~~yaml
service: demo
provider:
  name: aws
  stage: dev
functions:
  hello:
    handler: src/handlers/hello.handler
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load bundle configuration!

` + "`bundle.config.cue`" + ` is optional. When present it must match the schema.

## Things you can try:
- Print the schema:
~~~
$ slsbundle config show --schema
~~~
- Print the effective configuration as a starting point:
~~~
$ slsbundle config dump > bundle.config.cue
~~~

## Example configuration:
~~~cue
sourcemap: "external"
external: ["sharp"]
concurrency: 4
copy: [
  {from: "templates/*.html", to: "views"},
  {from: "fixtures/*", function: "importer"},
]
dev: {
  command: "serverless offline start --httpPort 3001"
  env_files: [".env"]
}
~~~`,
	}

	invalidHandlerIssue = &Issue{
		id: InvalidHandlerId,
		mdMsg: `
# Invalid function handler!

Handlers must name a source file and an exported function, separated by the
last dot: ` + "`src/handlers/users.list`" + ` bundles ` + "`src/handlers/users.ts`" + `
(or ` + ".mts, .js, .mjs" + `) and invokes its ` + "`list`" + ` export.`,
	}

	outputCollisionIssue = &Issue{
		id: OutputCollisionId,
		mdMsg: `
# Two handler files share an output directory!

Each handler file compiles into ` + "`dist/<file base name>`" + `, so
` + "`src/users/index.ts`" + ` and ` + "`src/orders/index.ts`" + ` cannot both be bundled.

## Things you can try:
- Rename one of the files so the base names differ
- Point both functions at the same handler file if they share code`,
	}

	invalidCopyPatternIssue = &Issue{
		id: InvalidCopyPatternId,
		mdMsg: `
# Invalid copy pattern!

Copy patterns come from ` + "`package.patterns`" + ` (service and function level) and
from the ` + "`copy`" + ` list of ` + "`bundle.config.cue`" + `.

## Pattern syntax:
- ` + "`static/*`" + ` copies matching files, keeping their relative path
- ` + "`asset/*:individual`" + ` copies into the ` + "`individual`" + ` subdirectory
- ` + "`!static/*.map`" + ` excludes matches from every other pattern
- ` + "`**`" + ` matches across directories`,
		extLinks: []HttpLink{"https://github.com/bmatcuk/doublestar#patterns"},
	}

	compileFailedIssue = &Issue{
		id: CompileFailedId,
		mdMsg: `
# Compilation failed!

esbuild reported errors for at least one entry file. Each message above shows
` + "`file:line:column`" + `.

## Things you can try:
- Fix the reported syntax or import errors
- Mark native or optional packages as external:
~~~cue
external: ["sharp", "canvas"]
~~~
- Run with ` + "`--verbose`" + ` to see warnings as well`,
		extLinks: []HttpLink{"https://esbuild.github.io/api/#external"},
	}

	archiveFailedIssue = &Issue{
		id: ArchiveFailedId,
		mdMsg: `
# Packaging failed!

A function's compiled directory could not be archived.

## Common causes:
- The build did not produce the function's output directory
- The archive directory is not writable
- Another process removed files while packaging`,
	}

	devCommandFailedIssue = &Issue{
		id: DevCommandFailedId,
		mdMsg: `
# Dev command could not be started!

` + "`slsbundle bundle dev`" + ` supervises a child process, by default
` + "`serverless offline start`" + `.

## Things you can try:
- Check the command is installed and on your PATH
- Override it for one run:
~~~
$ slsbundle bundle dev --command "npx serverless offline start"
~~~
- Or set it in ` + "`bundle.config.cue`" + `:
~~~cue
dev: command: "npx serverless offline start"
~~~`,
	}

	unknownEventIssue = &Issue{
		id: UnknownEventId,
		mdMsg: `
# Unknown lifecycle event!

## Supported events:
- before-package, after-package
- before-function-package, after-function-package
- before-offline-start
- before-invoke-local, after-invoke-local`,
	}

	issues = map[Id]*Issue{
		serviceNotFoundIssue.Id():    serviceNotFoundIssue,
		serviceParseErrorIssue.Id():  serviceParseErrorIssue,
		configLoadFailedIssue.Id():   configLoadFailedIssue,
		invalidHandlerIssue.Id():     invalidHandlerIssue,
		outputCollisionIssue.Id():    outputCollisionIssue,
		invalidCopyPatternIssue.Id(): invalidCopyPatternIssue,
		compileFailedIssue.Id():      compileFailedIssue,
		archiveFailedIssue.Id():      archiveFailedIssue,
		devCommandFailedIssue.Id():   devCommandFailedIssue,
		unknownEventIssue.Id():       unknownEventIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
