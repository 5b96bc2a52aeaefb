//go:build !windows

package wakeup

import (
	"os/exec"
	"syscall"
)

// detachProc puts the child in its own session so it survives the
// short-lived wakeup process.
func detachProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
