//go:build unix

package process

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup arranges for cmd to be spawned as the leader of a new
// process group, so encoder/search children it forks (ab-av1 itself spawns
// ffmpeg) can be reaped with one signal to the negative pgid.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// processGroupID returns the pgid of the spawned process, which equals its
// own pid since it was started as a group leader.
func processGroupID(cmd *exec.Cmd) int {
	if cmd.Process == nil {
		return 0
	}
	return cmd.Process.Pid
}

// signalGroup delivers sig to every process in pgid's group. pid is used as
// a fallback single-process target if pgid was never established (the
// process died before Start recorded it).
func signalGroup(pgid, pid int, sig os.Signal) error {
	unixSig, ok := toUnixSignal(sig)
	if !ok || pgid <= 0 {
		if pid <= 0 {
			return nil
		}
		return syscall.Kill(pid, unixSig)
	}
	if err := syscall.Kill(-pgid, unixSig); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}

func toUnixSignal(sig os.Signal) (syscall.Signal, bool) {
	switch sig {
	case os.Interrupt:
		return syscall.SIGTERM, true
	case os.Kill:
		return syscall.SIGKILL, true
	default:
		if s, ok := sig.(syscall.Signal); ok {
			return s, true
		}
		return syscall.SIGTERM, true
	}
}
