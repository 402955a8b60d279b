//go:build !unix

package process

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on platforms without POSIX process groups;
// Stop falls back to signaling the immediate child only.
func setProcessGroup(cmd *exec.Cmd) {}

func processGroupID(cmd *exec.Cmd) int {
	if cmd.Process == nil {
		return 0
	}
	return cmd.Process.Pid
}

func signalGroup(pgid, pid int, sig os.Signal) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	// No process-group semantics here: only the immediate child is reached,
	// so an ab-av1-spawned ffmpeg grandchild can survive this signal.
	return proc.Signal(sig)
}
