package output

import "time"

// Event types written to sinks.
//
// Launcher lifecycle:
//   - launch.started     a child process was started (Run, PID, Program)
//   - launch.exited      a child exited (Run, ExitCode)
//   - launch.restarting  the exit code matched the restart sentinel
//   - launch.stopped     the launcher is done (ExitCode)
//
// Supervisor lifecycle:
//   - watch.started / watch.stopped
//   - project.status     per project, once per tick
//   - issue.created      an incident was filed on GitHub (URL)
//   - tick.finished      all project.status events of a tick were written
const (
	EventLaunchStarted    = "launch.started"
	EventLaunchExited     = "launch.exited"
	EventLaunchRestarting = "launch.restarting"
	EventLaunchStopped    = "launch.stopped"

	EventWatchStarted  = "watch.started"
	EventWatchStopped  = "watch.stopped"
	EventProjectStatus = "project.status"
	EventIssueCreated  = "issue.created"
	EventTickFinished  = "tick.finished"
)

// Event is a lifecycle record. In ndjson mode each Event is one line.
type Event struct {
	Type         string    `json:"type"`
	Time         time.Time `json:"time"`
	RunID        string    `json:"run_id,omitempty"`
	Project      string    `json:"project,omitempty"`
	Status       string    `json:"status,omitempty"`
	ScriptStatus string    `json:"script_status,omitempty"`
	Program      string    `json:"program,omitempty"`
	PID          int       `json:"pid,omitempty"`
	Run          int       `json:"run,omitempty"`
	ExitCode     *int      `json:"exit_code,omitempty"`
	URL          string    `json:"url,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// Code returns a pointer to c for Event.ExitCode, which must distinguish 0 from unset.
func Code(c int) *int {
	return &c
}
