// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureProcAttr starts the child in its own process group so signals
// reach the whole tree (a package-manager wrapper and the server it starts).
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

func kill(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
