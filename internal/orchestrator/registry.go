package orchestrator

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"tradesim/internal/model/enum"
)

var (
	ErrRunNotFound      = errors.New("run not found")
	ErrRunAlreadyActive = errors.New("run already active")
)

// Run is the registry's view of one simulation for its active lifetime.
type Run struct {
	ID              string
	Status          enum.LifecycleState
	StartTime       time.Time
	DurationSeconds int
	ManifestPath    string
	ErrorMessage    string
	Results         map[string]any

	stopTimer *time.Timer
}

// Registry owns every active Run. It is the single source of truth for what
// is active now; all mutation happens under its mutex and callers only ever
// see copies.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Reserve inserts a new run in Starting state. The duplicate check and the
// insert are one atomic step; a second Reserve for the same id fails with
// ErrRunAlreadyActive.
func (r *Registry) Reserve(runID string, durationSeconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[runID]; ok {
		return ErrRunAlreadyActive
	}
	r.runs[runID] = &Run{
		ID:              runID,
		Status:          enum.LifecycleStarting,
		StartTime:       time.Now(),
		DurationSeconds: durationSeconds,
	}
	return nil
}

// Get returns a copy of the run.
func (r *Registry) Get(runID string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// Update applies fn to the run under the lock.
func (r *Registry) Update(runID string, fn func(*Run)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return false
	}
	fn(run)
	return true
}

// Remove deletes the run and cancels any pending auto-stop timer. It returns
// a copy of the removed run.
func (r *Registry) Remove(runID string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return Run{}, false
	}
	if run.stopTimer != nil {
		run.stopTimer.Stop()
		run.stopTimer = nil
	}
	delete(r.runs, runID)
	return *run, true
}

// CancelTimer stops the run's auto-stop timer without removing the run.
func (r *Registry) CancelTimer(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run, ok := r.runs[runID]; ok && run.stopTimer != nil {
		run.stopTimer.Stop()
		run.stopTimer = nil
	}
}

// ActiveIDs returns every registered run id.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}

// RunningIDs returns the ids currently in Running state.
func (r *Registry) RunningIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, run := range r.runs {
		if run.Status == enum.LifecycleRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of registered runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
