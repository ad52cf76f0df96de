// Package launcher starts the AutoWatch GUI (or any program) with the
// AutoWatch environment, optionally restarting it while it exits with the
// restart sentinel.
package launcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"autowatch/internal/output"

	"go.uber.org/zap"
)

type Variant string

const (
	// VariantDev runs the child once in the foreground and blocks until it exits.
	VariantDev Variant = "dev"
	// VariantProd starts the child detached without a console window and returns.
	VariantProd Variant = "prod"
	// VariantLoop runs the child in the foreground and restarts it on the sentinel code.
	VariantLoop Variant = "loop"
)

// DefaultSentinel is the exit code that asks the loop variant to start the child again.
const DefaultSentinel = 10

// Script is the program the launchers have always started.
const Script = "autowatch_gui.py"

// DefaultArgs returns the fixed argument list passed to Script.
func DefaultArgs() []string {
	return []string{Script, "--dataset", "CustomAWGN30ES15", "--model", "", "--Device", "cpu", "--test"}
}

// DefaultVariant is loop on POSIX systems and dev on Windows.
func DefaultVariant() Variant {
	if runtime.GOOS == "windows" {
		return VariantDev
	}
	return VariantLoop
}

// ParseVariant accepts dev, prod or loop; empty selects DefaultVariant.
func ParseVariant(raw string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return DefaultVariant(), nil
	case VariantDev:
		return VariantDev, nil
	case VariantProd:
		return VariantProd, nil
	case VariantLoop:
		return VariantLoop, nil
	}
	return "", fmt.Errorf("unsupported variant %q (must be one of: dev, prod, loop)", raw)
}

type Spec struct {
	Variant Variant
	Dir     string
	Env     map[string]string
	Program string
	Args    []string

	// Pause waits for Enter after a prod start returns.
	Pause bool

	// Sentinel overrides DefaultSentinel when > 0.
	Sentinel int
}

func (s Spec) sentinel() int {
	if s.Sentinel > 0 {
		return s.Sentinel
	}
	return DefaultSentinel
}

// Outcome summarizes a launcher run.
type Outcome struct {
	ExitCode int
	Runs     int
	Restarts int
}

// ScriptDir returns the directory holding the running executable with
// symlinks resolved, so launches do not depend on the caller's cwd.
func ScriptDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// DefaultSpec returns the hardcoded launch for v rooted at dir.
//
// AUTOWATCH_ENV always follows the variant. ROOT_PROJECT and GITHUB_TOKEN keep
// any value already present in parent; otherwise ROOT_PROJECT is dir's parent
// and GITHUB_TOKEN is empty.
func DefaultSpec(v Variant, dir string, parent []string) Spec {
	env := map[string]string{"AUTOWATCH_ENV": "dev"}
	if v == VariantProd {
		env["AUTOWATCH_ENV"] = "prod"
	}
	if root, ok := lookupEnv(parent, "ROOT_PROJECT"); ok && root != "" {
		env["ROOT_PROJECT"] = root
	} else {
		env["ROOT_PROJECT"] = filepath.Dir(dir)
	}
	if tok, ok := lookupEnv(parent, "GITHUB_TOKEN"); ok {
		env["GITHUB_TOKEN"] = tok
	} else {
		env["GITHUB_TOKEN"] = ""
	}

	return Spec{
		Variant:  v,
		Dir:      dir,
		Env:      env,
		Program:  defaultProgram(v, runtime.GOOS),
		Args:     DefaultArgs(),
		Sentinel: DefaultSentinel,
	}
}

func defaultProgram(v Variant, goos string) string {
	switch {
	case goos == "windows" && v == VariantProd:
		return "pythonw"
	case goos == "windows":
		return "python"
	case v == VariantDev:
		return "python"
	default:
		return "python3"
	}
}

type Launcher struct {
	starter Starter
	events  output.Emitter
	logger  *zap.Logger
	environ func() []string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

type Option func(*Launcher)

func WithStarter(s Starter) Option {
	return func(l *Launcher) { l.starter = s }
}

func WithEvents(e output.Emitter) Option {
	return func(l *Launcher) { l.events = e }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Launcher) { l.logger = logger }
}

// WithEnviron replaces os.Environ as the base of the child environment.
func WithEnviron(fn func() []string) Option {
	return func(l *Launcher) { l.environ = fn }
}

// WithIO sets the streams handed to foreground children and used by Pause.
func WithIO(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(l *Launcher) {
		l.stdin = stdin
		l.stdout = stdout
		l.stderr = stderr
	}
}

func New(opts ...Option) *Launcher {
	l := &Launcher{
		starter: ExecStarter{},
		logger:  zap.NewNop(),
		environ: os.Environ,
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, apply := range opts {
		if apply != nil {
			apply(l)
		}
	}
	return l
}

// Run launches spec.Program according to spec.Variant.
//
// Start failures (missing interpreter, unreadable directory) are returned as
// reported by the start mechanism. Any exit code, including non-zero, is a
// normal Outcome.
func (l *Launcher) Run(ctx context.Context, spec Spec) (Outcome, error) {
	if ctx == nil {
		return Outcome{}, fmt.Errorf("launcher: ctx is nil")
	}
	if spec.Program == "" {
		return Outcome{}, fmt.Errorf("launcher: program is required")
	}

	switch spec.Variant {
	case VariantDev:
		code, err := l.runOnce(ctx, spec, 1)
		if err != nil {
			return Outcome{}, err
		}
		l.stopped(code)
		return Outcome{ExitCode: code, Runs: 1}, nil
	case VariantProd:
		return l.runDetached(spec)
	case VariantLoop:
		return l.runLoop(ctx, spec)
	}
	return Outcome{}, fmt.Errorf("launcher: unsupported variant %q", spec.Variant)
}

func (l *Launcher) runLoop(ctx context.Context, spec Spec) (Outcome, error) {
	var out Outcome
	state := StateRunning
	code := 0

	for {
		switch state {
		case StateRunning:
			c, err := l.runOnce(ctx, spec, out.Runs+1)
			if err != nil {
				return out, err
			}
			out.Runs++
			code = c
		case StateRestarting:
			out.Restarts++
			l.logger.Debug("restart requested", zap.Int("exit_code", code), zap.Int("restarts", out.Restarts))
			l.emit(output.Event{Type: output.EventLaunchRestarting, Run: out.Runs, Message: "Restarting..."})
		case StateStopped:
			out.ExitCode = code
			l.stopped(code)
			return out, nil
		}

		next := Next(state, code, spec.sentinel(), ctx.Err() != nil)
		l.logger.Debug("launcher transition", zap.Stringer("from", state), zap.Stringer("to", next))
		state = next
	}
}

// runOnce starts the child in the foreground and waits for it. A canceled ctx
// forwards an interrupt to the child and keeps waiting for its exit.
func (l *Launcher) runOnce(ctx context.Context, spec Spec, run int) (int, error) {
	proc, err := l.starter.Start(l.command(spec, false))
	if err != nil {
		return 0, err
	}
	l.logger.Debug("child started", zap.String("program", spec.Program), zap.Int("pid", proc.Pid()), zap.Int("run", run))
	l.emit(output.Event{
		Type:    output.EventLaunchStarted,
		Program: spec.Program,
		PID:     proc.Pid(),
		Run:     run,
		Message: fmt.Sprintf("Starting %s (run %d)", commandLine(spec), run),
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := proc.Signal(interruptSignal()); err != nil {
				l.logger.Debug("forward signal failed", zap.Error(err))
			}
		case <-done:
		}
	}()

	code, err := proc.Wait()
	if err != nil {
		return 0, err
	}
	l.emit(output.Event{
		Type:     output.EventLaunchExited,
		Run:      run,
		ExitCode: output.Code(code),
		Message:  fmt.Sprintf("Process exited with code %d", code),
	})
	return code, nil
}

func (l *Launcher) runDetached(spec Spec) (Outcome, error) {
	proc, err := l.starter.Start(l.command(spec, true))
	if err != nil {
		return Outcome{}, err
	}
	pid := proc.Pid()
	if err := proc.Release(); err != nil {
		l.logger.Warn("release child failed", zap.Int("pid", pid), zap.Error(err))
	}
	l.logger.Debug("child started detached", zap.String("program", spec.Program), zap.Int("pid", pid))
	l.emit(output.Event{
		Type:    output.EventLaunchStarted,
		Program: spec.Program,
		PID:     pid,
		Run:     1,
		Message: fmt.Sprintf("Started %s in the background (pid %d)", commandLine(spec), pid),
	})

	if spec.Pause {
		l.pause()
	}
	l.stopped(0)
	return Outcome{ExitCode: 0, Runs: 1}, nil
}

func (l *Launcher) pause() {
	fmt.Fprint(l.stdout, "Press Enter to continue . . . ")
	if l.stdin == nil {
		fmt.Fprintln(l.stdout)
		return
	}
	_, _ = bufio.NewReader(l.stdin).ReadString('\n')
}

func (l *Launcher) command(spec Spec, detached bool) Command {
	return Command{
		Dir:      spec.Dir,
		Env:      ChildEnv(l.environ(), spec.Env),
		Program:  spec.Program,
		Args:     spec.Args,
		Detached: detached,
		Stdin:    l.stdin,
		Stdout:   l.stdout,
		Stderr:   l.stderr,
	}
}

func (l *Launcher) stopped(code int) {
	l.emit(output.Event{
		Type:     output.EventLaunchStopped,
		ExitCode: output.Code(code),
		Message:  fmt.Sprintf("Exiting with code %d", code),
	})
}

func (l *Launcher) emit(e output.Event) {
	if l.events == nil {
		return
	}
	if err := l.events.Emit(e); err != nil {
		l.logger.Warn("emit event failed", zap.String("type", e.Type), zap.Error(err))
	}
}

func commandLine(spec Spec) string {
	parts := make([]string, 0, len(spec.Args)+1)
	parts = append(parts, spec.Program)
	for _, a := range spec.Args {
		if a == "" || strings.ContainsAny(a, " \t") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
