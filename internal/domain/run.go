package domain

type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the run has left the running state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusStopped, RunStatusFailed:
		return true
	default:
		return false
	}
}
