//go:build windows

package provider

import (
	"os/exec"
	"strconv"
)

// setProcAttr is a no-op on Windows; process groups are Unix-specific.
func setProcAttr(cmd *exec.Cmd) {}

// terminateProcessGroup kills the process tree directly on Windows.
func terminateProcessGroup(pid int) error {
	return killProcessGroup(pid)
}

// killProcessGroup kills the process tree by PID.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}
