package supervisor

import "fmt"

// Repository statuses.
const (
	StatusStarting        = "Starting..."
	StatusWatching        = "Watching"
	StatusRestarting      = "Restarting Script"
	StatusErrorPulling    = "Error Pulling"
	StatusRepoUnavailable = "Repository Unavailable"
)

// Script statuses.
const (
	ScriptStarting       = "Starting..."
	ScriptStartingUp     = "Starting up..."
	ScriptRunning        = "Running"
	ScriptStopped        = "Stopped"
	ScriptStartupFailure = "Startup Failure"
	ScriptCrashWaiting   = "Crashed. Waiting to retry..."
	ScriptStoppedWaiting = "Stopped. Waiting to retry..."
	ScriptMaxRetries     = "Failed to start. Max retries reached."
)

func crashedRetrying(attempt, max int) string {
	return fmt.Sprintf("Crashed. Retrying (%d/%d)", attempt, max)
}

func stoppedRetrying(attempt, max int) string {
	return fmt.Sprintf("Stopped. Retrying (%d/%d)", attempt, max)
}

// Incident kinds, used as the metrics label.
const (
	kindPull           = "pull"
	kindStartupFailure = "startup_failure"
	kindCrash          = "crash"
)
