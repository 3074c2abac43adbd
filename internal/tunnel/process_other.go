//go:build !unix

package tunnel

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

func terminate(pid int) error {
	return kill(pid)
}

func kill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}
