package enum

// LifecycleState tracks a run inside the orchestrator registry.
type LifecycleState string

const (
	LifecycleIdle     LifecycleState = "idle"
	LifecycleStarting LifecycleState = "starting"
	LifecycleRunning  LifecycleState = "running"
	LifecycleStopping LifecycleState = "stopping"
	LifecycleError    LifecycleState = "error"
)

// Active reports whether the run still owns orchestration resources.
func (s LifecycleState) Active() bool {
	switch s {
	case LifecycleStarting, LifecycleRunning, LifecycleStopping:
		return true
	default:
		return false
	}
}

// RunStatus is the persisted status of a simulation run row.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusStopped   RunStatus = "stopped"
)

// IsAvailable reports whether the status is a known value.
func (s RunStatus) IsAvailable() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusStopped:
		return true
	default:
		return false
	}
}
