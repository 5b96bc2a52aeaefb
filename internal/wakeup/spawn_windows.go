//go:build windows

package wakeup

import (
	"os/exec"
	"syscall"
)

// detachProc detaches the child from this console session.
func detachProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x00000008, // DETACHED_PROCESS
	}
}
