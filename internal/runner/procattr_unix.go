//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in its own process group so the whole
// group can be signalled if descendant enumeration misses something.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(pid int) error {
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}
