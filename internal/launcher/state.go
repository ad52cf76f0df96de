package launcher

// State is a step of the restart loop.
type State int

const (
	StateRunning State = iota
	StateDeciding
	StateRestarting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDeciding:
		return "deciding"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Next returns the state that follows s.
//
// code is the child's exit code and only matters in StateDeciding. canceled
// forces Deciding to stop, so a signalled launcher never restarts its child.
// StateStopped is terminal.
func Next(s State, code, sentinel int, canceled bool) State {
	switch s {
	case StateRunning:
		return StateDeciding
	case StateDeciding:
		if code == sentinel && !canceled {
			return StateRestarting
		}
		return StateStopped
	case StateRestarting:
		return StateRunning
	default:
		return StateStopped
	}
}
