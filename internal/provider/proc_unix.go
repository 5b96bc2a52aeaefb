//go:build !windows

package provider

import (
	"os/exec"
	"syscall"
)

// setProcAttr enables process group creation so the AI subprocess and any
// children it spawns can be signalled together.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcessGroup asks the whole process group to exit.
func terminateProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killProcessGroup forcibly kills the whole process group.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGKILL)
}
