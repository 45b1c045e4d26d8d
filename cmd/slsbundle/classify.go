// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"os/exec"

	"github.com/invowk/slsbundle/internal/build"
	"github.com/invowk/slsbundle/internal/copyrule"
	"github.com/invowk/slsbundle/internal/entry"
	"github.com/invowk/slsbundle/internal/issue"
	"github.com/invowk/slsbundle/internal/orchestrator"
	"github.com/invowk/slsbundle/internal/service"
	"github.com/invowk/slsbundle/internal/supervisor"
	"github.com/invowk/slsbundle/pkg/pack"
)

// classifyError maps a command failure to the catalog issue that explains
// it, or zero when none applies. An issue linked by an ActionableError wins.
func classifyError(err error) issue.Id {
	if linked, ok := issue.IssueOf(err); ok {
		return linked.Id()
	}

	var archiveErr *pack.ArchiveError
	switch {
	case errors.Is(err, service.ErrNoFunctions), errors.Is(err, service.ErrInvalidFunction):
		return issue.ServiceParseErrorId
	case errors.Is(err, entry.ErrInvalidHandler):
		return issue.InvalidHandlerId
	case errors.Is(err, entry.ErrOutputCollision):
		return issue.OutputCollisionId
	case errors.Is(err, copyrule.ErrInvalidPattern):
		return issue.InvalidCopyPatternId
	case errors.Is(err, build.ErrUnknownPlugin):
		return issue.ConfigLoadFailedId
	case errors.Is(err, build.ErrCompile):
		return issue.CompileFailedId
	case errors.As(err, &archiveErr), errors.Is(err, pack.ErrInvalidDescriptor):
		return issue.ArchiveFailedId
	case errors.Is(err, supervisor.ErrEmptyCommand), errors.Is(err, exec.ErrNotFound):
		return issue.DevCommandFailedId
	case errors.Is(err, orchestrator.ErrUnknownEvent):
		return issue.UnknownEventId
	default:
		return 0
	}
}
