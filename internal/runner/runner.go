// Package runner starts a project's run script and tracks it without blocking.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// DefaultTail bounds the captured stdout and stderr of one run.
const DefaultTail = 64 << 10

const waitDelay = 2 * time.Second

type Handle struct {
	cmd    *exec.Cmd
	stdout *tailBuffer
	stderr *tailBuffer
	done   chan struct{}

	mu   sync.Mutex
	code int
}

type Runner struct {
	tail int
	env  []string
}

type Option func(*Runner)

// WithTail sets the per-stream capture limit in bytes.
func WithTail(n int) Option {
	return func(r *Runner) { r.tail = n }
}

// WithEnv sets the script environment; nil inherits ours.
func WithEnv(env []string) Option {
	return func(r *Runner) { r.env = env }
}

func New(opts ...Option) *Runner {
	r := &Runner{tail: DefaultTail}
	for _, apply := range opts {
		if apply != nil {
			apply(r)
		}
	}
	return r
}

// Start runs script from dir and returns as soon as the child is started.
func (r *Runner) Start(ctx context.Context, dir, script string) (*Handle, error) {
	if script == "" {
		return nil, errors.New("runner: script is empty")
	}
	cmd := scriptCommand(script)
	cmd.Dir = dir
	cmd.Env = r.env
	// Background grandchildren may keep the pipes open after the script exits.
	cmd.WaitDelay = waitDelay

	h := &Handle{
		cmd:    cmd,
		stdout: newTailBuffer(r.tail),
		stderr: newTailBuffer(r.tail),
		done:   make(chan struct{}),
		code:   -1,
	}
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", script, err)
	}
	go h.wait()
	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	h.mu.Lock()
	h.code = code
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Poll reports whether the script has exited and, if so, its exit code.
// A script killed by a signal reports -1.
func (h *Handle) Poll() (bool, int) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return true, h.code
	default:
		return false, 0
	}
}

// Done is closed once the script has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Output returns the captured tail of stdout and stderr.
func (h *Handle) Output() (stdout, stderr string) {
	return h.stdout.String(), h.stderr.String()
}

// Stop terminates the script with its whole process tree and waits for it to
// exit. It escalates to a kill after grace or when ctx is done.
func (h *Handle) Stop(ctx context.Context, grace time.Duration) error {
	if exited, _ := h.Poll(); exited {
		return nil
	}
	if err := terminateTree(h.cmd); err != nil {
		if exited, _ := h.Poll(); exited {
			return nil
		}
		return fmt.Errorf("terminate pid %d: %w", h.Pid(), err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := killTree(h.cmd); err != nil {
		if exited, _ := h.Poll(); !exited {
			return fmt.Errorf("kill pid %d: %w", h.Pid(), err)
		}
	}
	<-h.done
	return nil
}
