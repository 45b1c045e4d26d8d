// SPDX-License-Identifier: MPL-2.0

//go:build windows

package supervisor

import "os/exec"

func configureProcAttr(*exec.Cmd) {}

// terminate kills the child: Windows has no SIGTERM for console processes.
func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func kill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
