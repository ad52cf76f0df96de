// Package procs finds and stops stray project processes by name.
package procs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// DefaultGrace is how long Stop waits after terminating before it kills.
const DefaultGrace = 5 * time.Second

// Match is a process whose name or command line contained the pattern.
type Match struct {
	PID     int32
	Name    string
	Cmdline string
}

type Table struct {
	logger *zap.Logger
	self   int32
	grace  time.Duration
}

func New(logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{logger: logger, self: int32(os.Getpid()), grace: DefaultGrace}
}

// WithGrace returns a copy of t that waits d before killing.
func (t *Table) WithGrace(d time.Duration) *Table {
	c := *t
	c.grace = d
	return &c
}

// Find lists processes whose name or space-joined command line contains
// pattern. The calling process is never included and an empty pattern
// matches nothing.
func (t *Table) Find(ctx context.Context, pattern string) ([]Match, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	all, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var matches []Match
	for _, p := range all {
		if p.Pid == t.self {
			continue
		}
		// Processes can vanish or deny access between listing and inspection.
		name, _ := p.NameWithContext(ctx)
		args, _ := p.CmdlineSliceWithContext(ctx)
		cmdline := strings.Join(args, " ")
		if strings.Contains(name, pattern) || strings.Contains(cmdline, pattern) {
			matches = append(matches, Match{PID: p.Pid, Name: name, Cmdline: cmdline})
		}
	}
	return matches, nil
}

func (t *Table) IsRunning(ctx context.Context, pattern string) (bool, error) {
	m, err := t.Find(ctx, pattern)
	return len(m) > 0, err
}

// Stop terminates every match of pattern, kills whatever is still alive after
// the grace period and returns how many processes were signaled. Processes
// that exit on their own in between are not errors.
func (t *Table) Stop(ctx context.Context, pattern string) (int, error) {
	matches, err := t.Find(ctx, pattern)
	if err != nil {
		return 0, err
	}

	var (
		errs    []error
		stopped int
		pending []*process.Process
	)
	for _, m := range matches {
		p, err := process.NewProcessWithContext(ctx, m.PID)
		if err != nil {
			t.logger.Debug("process already terminated", zap.String("pattern", pattern), zap.Int32("pid", m.PID))
			continue
		}
		if err := p.TerminateWithContext(ctx); err != nil {
			if gone(ctx, p) {
				continue
			}
			errs = append(errs, fmt.Errorf("terminate %d: %w", m.PID, err))
			continue
		}
		stopped++
		pending = append(pending, p)
		t.logger.Info("process stopped", zap.String("pattern", pattern), zap.Int32("pid", m.PID))
	}

	deadline := time.Now().Add(t.grace)
	for len(pending) > 0 && time.Now().Before(deadline) {
		alive := pending[:0]
		for _, p := range pending {
			if !gone(ctx, p) {
				alive = append(alive, p)
			}
		}
		pending = alive
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return stopped, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	for _, p := range pending {
		if err := p.KillWithContext(ctx); err != nil && !gone(ctx, p) {
			errs = append(errs, fmt.Errorf("kill %d: %w", p.Pid, err))
		}
	}

	return stopped, errors.Join(errs...)
}

func gone(ctx context.Context, p *process.Process) bool {
	running, err := p.IsRunningWithContext(ctx)
	if err != nil {
		return true
	}
	if !running {
		return true
	}
	// Zombies still exist in the table until their parent reaps them.
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == process.Zombie {
			return true
		}
	}
	return false
}
