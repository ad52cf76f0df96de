package launcher

import "testing"

func TestNext(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		code     int
		canceled bool
		want     State
	}{
		{name: "running decides", from: StateRunning, want: StateDeciding},
		{name: "sentinel restarts", from: StateDeciding, code: 10, want: StateRestarting},
		{name: "zero stops", from: StateDeciding, code: 0, want: StateStopped},
		{name: "failure stops", from: StateDeciding, code: 1, want: StateStopped},
		{name: "canceled sentinel stops", from: StateDeciding, code: 10, canceled: true, want: StateStopped},
		{name: "restarting runs", from: StateRestarting, want: StateRunning},
		{name: "stopped is terminal", from: StateStopped, code: 10, want: StateStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Next(tt.from, tt.code, DefaultSentinel, tt.canceled); got != tt.want {
				t.Fatalf("Next(%s, %d) = %s, want %s", tt.from, tt.code, got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateRunning:    "running",
		StateDeciding:   "deciding",
		StateRestarting: "restarting",
		StateStopped:    "stopped",
		State(99):       "unknown",
	} {
		if s.String() != want {
			t.Fatalf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
