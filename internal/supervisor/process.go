// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

type (
	// Command describes a child process to launch.
	Command struct {
		Args   []string
		Env    []string
		Dir    string
		Stdout io.Writer
		Stderr io.Writer
	}

	// Process is a running child.
	Process interface {
		// Pid returns the operating system process id.
		Pid() int
		// Terminate asks the child to exit.
		Terminate() error
		// Kill forces the child to exit.
		Kill() error
		// Wait blocks until the child has exited.
		Wait() error
	}

	// Launcher starts child processes.
	Launcher interface {
		Launch(ctx context.Context, cmd Command) (Process, error)
	}

	// ExecLauncher starts children with os/exec.
	ExecLauncher struct{}

	execProcess struct {
		cmd *exec.Cmd
	}
)

// Launch starts cmd. The child is not tied to ctx; its lifetime is managed
// by the supervisor.
func (ExecLauncher) Launch(ctx context.Context, c Command) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(c.Args) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := exec.Command(c.Args[0], c.Args[1:]...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	cmd.Stdin = nil
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	configureProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Terminate() error { return terminate(p.cmd) }

func (p *execProcess) Kill() error { return kill(p.cmd) }

func (p *execProcess) Wait() error { return p.cmd.Wait() }
