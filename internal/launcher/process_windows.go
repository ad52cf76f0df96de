//go:build windows

package launcher

import (
	"os"
	"os/exec"
	"syscall"
)

// DETACHED_PROCESS is not exported by package syscall.
const detachedProcess = 0x00000008

// detach starts the child without a console window, like pythonw via "start".
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | detachedProcess,
	}
}

func exitStatus(err *exec.ExitError) int {
	return err.ExitCode()
}

// Windows cannot deliver os.Interrupt to another process.
func interruptSignal() os.Signal {
	return os.Kill
}
