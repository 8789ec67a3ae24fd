// Package orchestrator drives the lifecycle of simulation runs: resource
// assignment, manifest rendering, compose up/down, status reconciliation and
// startup cleanup. The registry it owns is the only authority on which runs
// are active.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"tradesim/internal/compose"
	"tradesim/internal/manifest"
	"tradesim/internal/model"
	"tradesim/internal/model/enum"
)

// ConfigStore persists the per-run configuration document and resolves
// registered algorithm versions. Writes are best effort; a config-store
// outage never blocks a start.
type ConfigStore interface {
	SaveRunConfig(ctx context.Context, doc model.RunConfigDocument) error
	GetAlgorithmVersion(ctx context.Context, version string) (*model.AlgoVersionDocument, error)
}

// RunRecorder creates the initial results-store row for a run. Writes are
// best effort for the same reason.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *model.SimulationRun) error
}

// SnapshotRecorder settles the run row with the results snapshot collected
// while tearing a run down.
type SnapshotRecorder interface {
	ApplyStopResults(ctx context.Context, runID string, status enum.RunStatus, data map[string]any) error
}

// Orchestrator composes the allocator, manifest generator and process
// controller into run lifecycle operations.
type Orchestrator struct {
	registry  *Registry
	manifests *manifest.Generator
	runner    compose.Runner
	collector *Collector
	configs   ConfigStore
	records   RunRecorder
	snapshots SnapshotRecorder
}

// New creates an orchestrator. configs, records and snapshots may be nil.
func New(registry *Registry, manifests *manifest.Generator, runner compose.Runner, collector *Collector, configs ConfigStore, records RunRecorder, snapshots SnapshotRecorder) *Orchestrator {
	if collector == nil {
		collector = &Collector{}
	}
	return &Orchestrator{
		registry:  registry,
		manifests: manifests,
		runner:    runner,
		collector: collector,
		configs:   configs,
		records:   records,
		snapshots: snapshots,
	}
}

// Registry exposes the orchestrator's registry to read-only collaborators.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// StartRequest carries everything needed to launch one run.
type StartRequest struct {
	RunID           string
	DurationSeconds int
	AlgoVersion     string
	Algo            *model.AlgoConfig
	Simulator       *model.SimulatorConfig
	Metadata        map[string]any
}

// Start launches a simulation pipeline and returns its run id. The duplicate
// check and the registry insert are a single atomic step; every later
// failure leaves the run registered in Error state for inspection.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (string, error) {
	runID := req.RunID
	if runID == "" {
		runID = "sim_" + uuid.NewString()
	}

	if err := o.registry.Reserve(runID, req.DurationSeconds); err != nil {
		return runID, err
	}

	if err := o.runner.Probe(ctx); err != nil {
		// Nothing was rendered yet; release the reservation so a retry
		// is possible once the runtime is back.
		o.registry.Remove(runID)
		return runID, err
	}

	algo := o.resolveAlgo(ctx, req)
	sim := model.DefaultSimulatorConfig()
	if req.Simulator != nil {
		sim = *req.Simulator
	}

	path, err := o.manifests.Generate(runID, algo, sim, req.DurationSeconds)
	if err != nil {
		o.fail(runID, err)
		return runID, err
	}
	o.registry.Update(runID, func(r *Run) { r.ManifestPath = path })

	o.saveConfig(ctx, runID, req, algo, sim)
	o.recordRun(ctx, runID, req, sim)

	if err := o.runner.Up(ctx, path); err != nil {
		o.fail(runID, err)
		return runID, err
	}

	o.registry.Update(runID, func(r *Run) {
		r.Status = enum.LifecycleRunning
		if req.DurationSeconds > 0 {
			r.stopTimer = time.AfterFunc(time.Duration(req.DurationSeconds)*time.Second, func() {
				o.autoStop(runID)
			})
		}
	})

	logs.Infof("simulation %s started for %ds", runID, req.DurationSeconds)
	return runID, nil
}

// StopResult reports the outcome of a stop.
type StopResult struct {
	Stopped bool
	Results map[string]any
}

// Stop gracefully tears a run down: collect results best effort, compose
// down, manifest cleanup, registry removal. Stopping a run that is not in
// Starting/Running returns Stopped=false without side effects.
func (o *Orchestrator) Stop(ctx context.Context, runID string) (StopResult, error) {
	run, ok := o.registry.Get(runID)
	if !ok {
		return StopResult{}, ErrRunNotFound
	}
	if !run.Status.Active() || run.Status == enum.LifecycleStopping {
		logs.Warnf("simulation %s is not running (status: %s)", runID, run.Status)
		return StopResult{Stopped: false}, nil
	}

	o.registry.Update(runID, func(r *Run) { r.Status = enum.LifecycleStopping })
	o.registry.CancelTimer(runID)

	results := run.Results
	if results == nil {
		collected, err := o.collector.Collect(ctx, runID)
		if err != nil {
			logs.Warnf("collect results for %s: %v", runID, err)
		} else {
			results = collected
			o.registry.Update(runID, func(r *Run) { r.Results = collected })
		}
	}

	if run.ManifestPath != "" {
		if err := o.runner.Down(ctx, run.ManifestPath, false); err != nil {
			o.fail(runID, err)
			return StopResult{}, err
		}
		if err := o.manifests.Remove(runID); err != nil {
			logs.Warnf("remove manifest for %s: %v", runID, err)
		}
	}

	status := enum.RunStatusStopped
	if results != nil {
		status = enum.RunStatusCompleted
	}
	o.persistStop(ctx, runID, status, results)

	o.registry.Remove(runID)
	logs.Infof("simulation %s stopped", runID)
	return StopResult{Stopped: true, Results: results}, nil
}

// ForceStop is the best-effort teardown path for when Stop cannot be
// trusted: kill, then down with full cleanup, regardless of prior state.
// The manifest and registry entry are removed unconditionally.
func (o *Orchestrator) ForceStop(ctx context.Context, runID string) error {
	run, registered := o.registry.Get(runID)
	results := run.Results
	if registered && results == nil {
		if collected, err := o.collector.Collect(ctx, runID); err == nil {
			results = collected
			o.registry.Update(runID, func(r *Run) { r.Results = collected })
		}
	}

	path := o.manifests.Path(runID)
	if err := o.runner.Kill(ctx, path); err != nil {
		logs.Warnf("compose kill for %s: %v", runID, err)
	}
	if err := o.runner.Down(ctx, path, true); err != nil {
		logs.Warnf("compose down for %s: %v", runID, err)
	}
	if err := o.manifests.Remove(runID); err != nil {
		logs.Warnf("remove manifest for %s: %v", runID, err)
	}

	if registered {
		o.persistStop(ctx, runID, enum.RunStatusStopped, results)
	}
	o.registry.Remove(runID)
	logs.Infof("simulation %s force stopped", runID)
	return nil
}

// StopAll stops every active run and reports per-run success.
func (o *Orchestrator) StopAll(ctx context.Context) map[string]bool {
	outcome := make(map[string]bool)
	for _, id := range o.registry.ActiveIDs() {
		res, err := o.Stop(ctx, id)
		outcome[id] = err == nil && res.Stopped
	}
	return outcome
}

// StatusView is the externally visible state of one run.
type StatusView struct {
	RunID            string              `json:"run_id"`
	Status           enum.LifecycleState `json:"status"`
	StartTime        time.Time           `json:"start_time"`
	DurationSeconds  int                 `json:"duration_seconds"`
	ElapsedSeconds   int                 `json:"elapsed_seconds"`
	RemainingSeconds *int                `json:"remaining_seconds,omitempty"`
	ErrorMessage     string              `json:"error_message,omitempty"`
}

// Status reconciles the run against observed container state and returns its
// view. A Starting/Running run with no live processes is settled to Idle.
func (o *Orchestrator) Status(ctx context.Context, runID string) (StatusView, error) {
	run, ok := o.registry.Get(runID)
	if !ok {
		return StatusView{}, ErrRunNotFound
	}

	if run.Status == enum.LifecycleStarting || run.Status == enum.LifecycleRunning {
		if run.ManifestPath != "" {
			procs, err := o.runner.Processes(ctx, run.ManifestPath)
			if err == nil && len(procs) == 0 {
				logs.Infof("no containers found for %s, settling status", runID)
				o.registry.Update(runID, func(r *Run) { r.Status = enum.LifecycleIdle })
				o.registry.CancelTimer(runID)
				run.Status = enum.LifecycleIdle
			}
		}
	}

	view := StatusView{
		RunID:           runID,
		Status:          run.Status,
		StartTime:       run.StartTime,
		DurationSeconds: run.DurationSeconds,
		ElapsedSeconds:  int(time.Since(run.StartTime).Seconds()),
	}
	if run.Status == enum.LifecycleError {
		view.ErrorMessage = run.ErrorMessage
	}
	if run.Status == enum.LifecycleRunning && run.DurationSeconds > 0 {
		remaining := run.DurationSeconds - view.ElapsedSeconds
		if remaining < 0 {
			remaining = 0
		}
		view.RemainingSeconds = &remaining
	}
	return view, nil
}

// Overview aggregates the status of every active run.
type Overview struct {
	TotalActive  int                   `json:"total_active_runs"`
	RunningCount int                   `json:"running_count"`
	Runs         map[string]StatusView `json:"runs"`
}

// StatusAll returns the aggregate status of all active runs.
func (o *Orchestrator) StatusAll(ctx context.Context) Overview {
	views := make(map[string]StatusView)
	for _, id := range o.registry.ActiveIDs() {
		view, err := o.Status(ctx, id)
		if err != nil {
			continue
		}
		views[id] = view
	}
	return Overview{
		TotalActive:  o.registry.Len(),
		RunningCount: len(o.registry.RunningIDs()),
		Runs:         views,
	}
}

// Results returns the snapshot collected while stopping, if any.
func (o *Orchestrator) Results(runID string) (map[string]any, bool) {
	run, ok := o.registry.Get(runID)
	if !ok || run.Results == nil {
		return nil, false
	}
	return run.Results, true
}

// LiveStats proxies the workload's /stats endpoint for an active run.
func (o *Orchestrator) LiveStats(ctx context.Context, runID string) (map[string]any, error) {
	if _, ok := o.registry.Get(runID); !ok {
		return nil, ErrRunNotFound
	}
	return o.collector.LiveStats(ctx, runID)
}

// ReconcileStartup removes manifests left behind by a previous process whose
// containers are gone. The registry is empty at process start by
// construction, so any manifest without live processes is an orphan.
func (o *Orchestrator) ReconcileStartup(ctx context.Context) {
	ids, err := o.manifests.List()
	if err != nil {
		logs.Warnf("list manifests: %v", err)
		return
	}
	for _, id := range ids {
		procs, err := o.runner.Processes(ctx, o.manifests.Path(id))
		if err != nil || len(procs) > 0 {
			continue
		}
		logs.Infof("cleaning up orphaned manifest for %s", id)
		if err := o.manifests.Remove(id); err != nil {
			logs.Warnf("remove orphaned manifest for %s: %v", id, err)
		}
	}
}

func (o *Orchestrator) fail(runID string, cause error) {
	o.registry.Update(runID, func(r *Run) {
		r.Status = enum.LifecycleError
		r.ErrorMessage = cause.Error()
	})
	o.registry.CancelTimer(runID)
	logs.Errorf("simulation %s failed: %v", runID, cause)
}

func (o *Orchestrator) autoStop(runID string) {
	logs.Infof("auto-stopping simulation %s after its requested duration", runID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if _, err := o.Stop(ctx, runID); err != nil && err != ErrRunNotFound {
		logs.Errorf("auto-stop %s: %v", runID, err)
	}
}

// persistStop settles the stored run row after a teardown. Best effort: a
// gateway outage falls back to the file backup, never to a failed stop.
func (o *Orchestrator) persistStop(ctx context.Context, runID string, status enum.RunStatus, results map[string]any) {
	if o.snapshots == nil {
		return
	}
	if err := o.snapshots.ApplyStopResults(ctx, runID, status, results); err != nil {
		logs.Warnf("persist stop results for %s: %v", runID, err)
	}
}

// resolveAlgo picks the algorithm configuration for a start request: an
// explicit config wins, then the defaults of the requested registered
// version, then the built-in defaults.
func (o *Orchestrator) resolveAlgo(ctx context.Context, req StartRequest) model.AlgoConfig {
	if req.Algo != nil {
		return *req.Algo
	}
	if req.AlgoVersion != "" && o.configs != nil {
		doc, err := o.configs.GetAlgorithmVersion(ctx, req.AlgoVersion)
		if err == nil {
			return doc.DefaultConfig
		}
		logs.Warnf("resolve algorithm version %s: %v", req.AlgoVersion, err)
	}
	return model.DefaultAlgoConfig()
}

func (o *Orchestrator) recordRun(ctx context.Context, runID string, req StartRequest, sim model.SimulatorConfig) {
	if o.records == nil {
		return
	}
	run := &model.SimulationRun{
		RunID:           runID,
		StartTime:       time.Now(),
		DurationSeconds: req.DurationSeconds,
		AlgoVersion:     req.AlgoVersion,
		Status:          enum.RunStatusRunning,
		InitialCapital:  sim.InitialCapital,
	}
	if err := o.records.CreateRun(ctx, run); err != nil {
		logs.Warnf("record run row for %s: %v", runID, err)
	}
}

func (o *Orchestrator) saveConfig(ctx context.Context, runID string, req StartRequest, algo model.AlgoConfig, sim model.SimulatorConfig) {
	if o.configs == nil {
		return
	}
	version := req.AlgoVersion
	if version == "" {
		version = "v1.0.0"
	}
	doc := model.RunConfigDocument{
		RunID:           runID,
		CreatedAt:       time.Now(),
		Status:          enum.RunStatusPending,
		DurationSeconds: req.DurationSeconds,
		AlgoVersion:     version,
		AlgoConfig:      algo,
		SimulatorConfig: sim,
		Metadata:        req.Metadata,
	}
	if err := o.configs.SaveRunConfig(ctx, doc); err != nil {
		logs.Warnf("save run config for %s: %v", runID, err)
	}
}
