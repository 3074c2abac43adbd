//go:build unix

package tunnel

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the tunnel in its own group so helpers it spawns
// are terminated with it
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// processAlive probes the process group of pid
func processAlive(pid int) bool {
	_, err := syscall.Getpgid(pid)
	return err == nil
}

func terminate(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

func kill(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
