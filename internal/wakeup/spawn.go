package wakeup

import (
	"fmt"
	"os"
	"os/exec"
)

// spawnRunner starts a detached runner daemon for the project by
// re-executing this binary. The child is released immediately: wakeup
// never waits on a runner.
func spawnRunner(projectPath string, parallel bool) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := []string{"runners", "start", "--detach", "--project", projectPath}
	if parallel {
		args = append(args, "--parallel")
	}

	cmd := exec.Command(self, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	detachProc(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start runner for %s: %w", projectPath, err)
	}
	return cmd.Process.Release()
}
