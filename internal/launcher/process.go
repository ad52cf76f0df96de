package launcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Command describes one child process start.
type Command struct {
	Dir      string
	Env      []string
	Program  string
	Args     []string
	Detached bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Process is a started child.
type Process interface {
	Pid() int
	// Wait blocks until the child exits and returns its exit code.
	// The error is non-nil only when the exit status could not be read.
	Wait() (int, error)
	Signal(sig os.Signal) error
	// Release detaches the child; Wait must not be called afterwards.
	Release() error
}

// Starter starts child processes.
type Starter interface {
	Start(cmd Command) (Process, error)
}

// ExecStarter starts real OS processes via os/exec.
type ExecStarter struct{}

func (ExecStarter) Start(c Command) (Process, error) {
	cmd := exec.Command(c.Program, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	if c.Detached {
		// Detached children get no console streams; os/exec opens the null device.
		detach(cmd)
	} else {
		cmd.Stdin = c.Stdin
		cmd.Stdout = c.Stdout
		cmd.Stderr = c.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Program, err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitStatus(exitErr), nil
	}
	return -1, fmt.Errorf("wait %s: %w", p.cmd.Path, err)
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Release() error {
	return p.cmd.Process.Release()
}
