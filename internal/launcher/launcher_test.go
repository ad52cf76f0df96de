package launcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"

	"autowatch/internal/output"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// scriptedStarter hands out fake processes whose exit codes follow codes.
type scriptedStarter struct {
	mu       sync.Mutex
	codes    []int
	commands []Command
	released int
	startErr error
}

func (s *scriptedStarter) Start(c Command) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.commands = append(s.commands, c)
	code := 0
	if len(s.codes) > 0 {
		code = s.codes[0]
		s.codes = s.codes[1:]
	}
	return &fakeProcess{pid: 1000 + len(s.commands), code: code, starter: s}, nil
}

type fakeProcess struct {
	pid     int
	code    int
	starter *scriptedStarter
}

func (p *fakeProcess) Pid() int { return p.pid }
func (p *fakeProcess) Wait() (int, error) { return p.code, nil }
func (p *fakeProcess) Signal(os.Signal) error { return nil }
func (p *fakeProcess) Release() error {
	p.starter.mu.Lock()
	p.starter.released++
	p.starter.mu.Unlock()
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []output.Event
}

func (l *eventLog) Emit(e output.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) count(typ string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func newTestLauncher(s Starter, events *eventLog) *Launcher {
	return New(
		WithStarter(s),
		WithEvents(events),
		WithEnviron(func() []string { return []string{"PATH=/bin", "HOME=/home/test"} }),
		WithIO(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}),
	)
}

func loopSpec() Spec {
	return Spec{Variant: VariantLoop, Dir: "/opt/autowatch", Program: "python3", Args: DefaultArgs()}
}

func TestRun_LoopScenarios(t *testing.T) {
	tests := []struct {
		name         string
		codes        []int
		wantRuns     int
		wantRestarts int
		wantCode     int
	}{
		{name: "A_exit_zero_runs_once", codes: []int{0}, wantRuns: 1, wantRestarts: 0, wantCode: 0},
		{name: "B_restart_then_zero", codes: []int{10, 0}, wantRuns: 2, wantRestarts: 1, wantCode: 0},
		{name: "C_three_restarts_then_one", codes: []int{10, 10, 10, 1}, wantRuns: 4, wantRestarts: 3, wantCode: 1},
		{name: "non_sentinel_failure_stops", codes: []int{2}, wantRuns: 1, wantRestarts: 0, wantCode: 2},
		{name: "eleven_is_not_the_sentinel", codes: []int{11, 0}, wantRuns: 1, wantRestarts: 0, wantCode: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &scriptedStarter{codes: append([]int(nil), tt.codes...)}
			events := &eventLog{}
			l := newTestLauncher(starter, events)

			out, err := l.Run(context.Background(), loopSpec())
			if err != nil {
				t.Fatalf("Run error: %v", err)
			}
			want := Outcome{ExitCode: tt.wantCode, Runs: tt.wantRuns, Restarts: tt.wantRestarts}
			if out != want {
				t.Fatalf("outcome: got %+v want %+v", out, want)
			}
			if got := len(starter.commands); got != tt.wantRuns {
				t.Fatalf("starts: got %d want %d", got, tt.wantRuns)
			}
			if got := events.count(output.EventLaunchRestarting); got != tt.wantRestarts {
				t.Fatalf("restart events: got %d want %d", got, tt.wantRestarts)
			}
			if got := events.count(output.EventLaunchStopped); got != 1 {
				t.Fatalf("stopped events: got %d want 1", got)
			}
		})
	}
}

func TestRun_LoopHonorsCustomSentinel(t *testing.T) {
	starter := &scriptedStarter{codes: []int{42, 10}}
	l := newTestLauncher(starter, &eventLog{})

	spec := loopSpec()
	spec.Sentinel = 42
	out, err := l.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.Runs != 2 || out.ExitCode != 10 {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestRun_LoopStopsWhenCanceled(t *testing.T) {
	starter := &scriptedStarter{codes: []int{10, 10, 10}}
	l := newTestLauncher(starter, &eventLog{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := l.Run(ctx, loopSpec())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.Runs != 1 || out.ExitCode != 10 {
		t.Fatalf("canceled loop must not restart: %+v", out)
	}
}

func TestRun_DevRunsOnceEvenOnSentinel(t *testing.T) {
	starter := &scriptedStarter{codes: []int{10, 0}}
	l := newTestLauncher(starter, &eventLog{})

	spec := loopSpec()
	spec.Variant = VariantDev
	out, err := l.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out != (Outcome{ExitCode: 10, Runs: 1}) {
		t.Fatalf("outcome: %+v", out)
	}
	if starter.commands[0].Detached {
		t.Fatalf("dev must run in the foreground")
	}
}

func TestRun_ProdDetachesAndPauses(t *testing.T) {
	starter := &scriptedStarter{codes: []int{3}}
	events := &eventLog{}
	var stdout bytes.Buffer
	l := New(
		WithStarter(starter),
		WithEvents(events),
		WithEnviron(func() []string { return nil }),
		WithIO(strings.NewReader("\n"), &stdout, &bytes.Buffer{}),
	)

	spec := loopSpec()
	spec.Variant = VariantProd
	spec.Pause = true
	out, err := l.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out != (Outcome{ExitCode: 0, Runs: 1}) {
		t.Fatalf("prod must not wait for the child: %+v", out)
	}
	if !starter.commands[0].Detached {
		t.Fatalf("prod must start detached")
	}
	if starter.released != 1 {
		t.Fatalf("prod must release the child, released=%d", starter.released)
	}
	if !strings.Contains(stdout.String(), "Press Enter to continue") {
		t.Fatalf("missing pause prompt: %q", stdout.String())
	}
	if events.count(output.EventLaunchExited) != 0 {
		t.Fatalf("prod must not report a child exit")
	}
}

func TestRun_StartErrorPropagates(t *testing.T) {
	startErr := errors.New(`exec: "python3": executable file not found in $PATH`)
	for _, v := range []Variant{VariantDev, VariantProd, VariantLoop} {
		starter := &scriptedStarter{startErr: startErr}
		l := newTestLauncher(starter, &eventLog{})
		spec := loopSpec()
		spec.Variant = v
		if _, err := l.Run(context.Background(), spec); !errors.Is(err, startErr) {
			t.Fatalf("%s: want start error, got %v", v, err)
		}
	}
}

func TestRun_RejectsBadSpec(t *testing.T) {
	l := newTestLauncher(&scriptedStarter{}, &eventLog{})
	if _, err := l.Run(context.Background(), Spec{Variant: VariantDev}); err == nil {
		t.Fatalf("expected error for missing program")
	}
	if _, err := l.Run(context.Background(), Spec{Variant: "beta", Program: "x"}); err == nil {
		t.Fatalf("expected error for unknown variant")
	}
}

func TestRun_PassesEnvDirAndArgs(t *testing.T) {
	starter := &scriptedStarter{codes: []int{0}}
	l := newTestLauncher(starter, &eventLog{})

	spec := DefaultSpec(VariantLoop, "/opt/tools/autowatch", []string{"PATH=/bin"})
	if _, err := l.Run(context.Background(), spec); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	c := starter.commands[0]
	if c.Dir != "/opt/tools/autowatch" {
		t.Fatalf("dir: %q", c.Dir)
	}
	if !reflect.DeepEqual(c.Args, DefaultArgs()) {
		t.Fatalf("args: %q", c.Args)
	}
	for _, want := range []string{"AUTOWATCH_ENV=dev", "ROOT_PROJECT=/opt/tools", "GITHUB_TOKEN=", "HOME=/home/test"} {
		found := false
		for _, kv := range c.Env {
			if kv == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("child env missing %q: %v", want, c.Env)
		}
	}
}

func TestDefaultSpec(t *testing.T) {
	t.Run("prod sets prod env", func(t *testing.T) {
		spec := DefaultSpec(VariantProd, "/a/b", nil)
		if spec.Env["AUTOWATCH_ENV"] != "prod" {
			t.Fatalf("AUTOWATCH_ENV: %q", spec.Env["AUTOWATCH_ENV"])
		}
	})

	t.Run("parent values kept", func(t *testing.T) {
		spec := DefaultSpec(VariantLoop, "/a/b", []string{"ROOT_PROJECT=/srv", "GITHUB_TOKEN=abc", "AUTOWATCH_ENV=prod"})
		if spec.Env["ROOT_PROJECT"] != "/srv" || spec.Env["GITHUB_TOKEN"] != "abc" {
			t.Fatalf("parent values not kept: %v", spec.Env)
		}
		if spec.Env["AUTOWATCH_ENV"] != "dev" {
			t.Fatalf("AUTOWATCH_ENV must follow the variant: %v", spec.Env)
		}
	})

	t.Run("fixed arguments", func(t *testing.T) {
		spec := DefaultSpec(VariantLoop, "/a/b", nil)
		want := []string{"autowatch_gui.py", "--dataset", "CustomAWGN30ES15", "--model", "", "--Device", "cpu", "--test"}
		if !reflect.DeepEqual(spec.Args, want) {
			t.Fatalf("args: %q", spec.Args)
		}
		if spec.Sentinel != 10 {
			t.Fatalf("sentinel: %d", spec.Sentinel)
		}
	})
}

func TestDefaultProgram(t *testing.T) {
	tests := []struct {
		v    Variant
		goos string
		want string
	}{
		{VariantLoop, "linux", "python3"},
		{VariantDev, "linux", "python"},
		{VariantProd, "linux", "python3"},
		{VariantDev, "windows", "python"},
		{VariantProd, "windows", "pythonw"},
	}
	for _, tt := range tests {
		if got := defaultProgram(tt.v, tt.goos); got != tt.want {
			t.Fatalf("defaultProgram(%s, %s) = %q, want %q", tt.v, tt.goos, got, tt.want)
		}
	}
}

func TestParseVariant(t *testing.T) {
	if v, err := ParseVariant(" PROD "); err != nil || v != VariantProd {
		t.Fatalf("ParseVariant(PROD) = %q, %v", v, err)
	}
	if v, err := ParseVariant(""); err != nil || v != DefaultVariant() {
		t.Fatalf("ParseVariant(\"\") = %q, %v", v, err)
	}
	if _, err := ParseVariant("beta"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCommandLine_QuotesEmptyArgs(t *testing.T) {
	got := commandLine(Spec{Program: "python3", Args: []string{"a.py", "--model", ""}})
	if got != `python3 a.py --model ""` {
		t.Fatalf("commandLine: %s", got)
	}
}

func TestRun_TransitionsLogAtDebugOnly(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	starter := &scriptedStarter{codes: []int{10, 10, 1}}
	events := &eventLog{}
	l := New(
		WithStarter(starter),
		WithEvents(events),
		WithLogger(zap.New(core)),
		WithEnviron(func() []string { return nil }),
		WithIO(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}),
	)

	out, err := l.Run(context.Background(), loopSpec())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.Runs != 3 {
		t.Fatalf("outcome: %+v", out)
	}
	if got := events.count(output.EventLaunchRestarting); got != 2 {
		t.Fatalf("restarting events: got %d want 2", got)
	}
	if n := logs.Len(); n != 0 {
		t.Fatalf("want no info-level log lines, got %d: %v", n, logs.All())
	}

	spec := loopSpec()
	spec.Variant = VariantProd
	if _, err := l.Run(context.Background(), spec); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if n := logs.Len(); n != 0 {
		t.Fatalf("prod start logged at info: %v", logs.All())
	}
}
