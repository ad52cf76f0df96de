//go:build !windows

package launcher

import (
	"os"
	"os/exec"
	"syscall"
)

// detach puts the child in its own session so it outlives the launcher and
// never receives the terminal's job-control signals.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// exitStatus mirrors the shell: a child killed by signal N reports 128+N.
func exitStatus(err *exec.ExitError) int {
	if status, ok := err.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return err.ExitCode()
}

func interruptSignal() os.Signal {
	return os.Interrupt
}
