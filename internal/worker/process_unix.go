//go:build unix

package worker

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killWorkerGroup runs the worker in its own process group and kills the
// whole group on cancel, so helpers it spawned do not hold its output open
func killWorkerGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
