// SPDX-License-Identifier: MPL-2.0

package build

import (
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// maxReportedMessages caps how many esbuild messages an error string carries.
const maxReportedMessages = 10

// ErrCompile is the sentinel wrapped by CompileError.
var ErrCompile = errors.New("compile failed")

// CompileError carries the esbuild error messages of a failed compile.
type CompileError struct {
	// Entry is the entry point being compiled, empty for watch-context compiles.
	Entry    string
	Messages []api.Message
}

// Error implements the error interface for CompileError.
func (e *CompileError) Error() string {
	var sb strings.Builder
	if e.Entry != "" {
		fmt.Fprintf(&sb, "compile %s: ", e.Entry)
	}
	fmt.Fprintf(&sb, "%d error(s)", len(e.Messages))
	for i, msg := range e.Messages {
		if i == maxReportedMessages {
			fmt.Fprintf(&sb, "\n  ... and %d more", len(e.Messages)-i)
			break
		}
		sb.WriteString("\n  ")
		sb.WriteString(FormatMessage(msg))
	}
	return sb.String()
}

// Unwrap returns ErrCompile for errors.Is() compatibility.
func (e *CompileError) Unwrap() error { return ErrCompile }

// FormatMessage renders an esbuild message as "file:line:col: text".
func FormatMessage(msg api.Message) string {
	if msg.Location == nil {
		return msg.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
}
