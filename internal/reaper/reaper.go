// Package reaper removes leaked runtime resources: containers, per-run
// networks and manifests whose run is no longer active. It works on raw
// object names so it can clean up after crashed processes that left no
// registry state behind.
package reaper

import (
	"context"
	"strings"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/alloc"
	"tradesim/internal/compose"
	"tradesim/internal/manifest"
)

var ErrRunLimitReached = errors.New("maximum concurrent runs reached")

// Config tunes the reaper.
type Config struct {
	// MaxConcurrentRuns bounds simultaneously active runs. Defaults to 10.
	MaxConcurrentRuns int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentRuns <= 0 {
		c.MaxConcurrentRuns = 10
	}
	return c
}

// Reaper sweeps containers, networks and manifests that belong to runs the
// registry no longer tracks.
type Reaper struct {
	cfg       Config
	docker    compose.DockerAPI
	manifests *manifest.Generator
	activeIDs func() []string
}

// New creates a reaper. activeIDs reports the run ids that must be spared.
func New(cfg Config, docker compose.DockerAPI, manifests *manifest.Generator, activeIDs func() []string) *Reaper {
	return &Reaper{
		cfg:       cfg.withDefaults(),
		docker:    docker,
		manifests: manifests,
		activeIDs: activeIDs,
	}
}

// Category lists what one sweep pass cleaned and what it could not.
type Category struct {
	Cleaned []string `json:"cleaned"`
	Failed  []string `json:"failed"`
}

// Report is the outcome of one cleanup pass, per resource kind.
type Report struct {
	Containers Category `json:"containers"`
	Networks   Category `json:"networks"`
	Manifests  Category `json:"manifests"`
}

// Usage is a point-in-time count of the resources this process manages.
type Usage struct {
	ActiveRuns        int `json:"active_runs"`
	Containers        int `json:"containers"`
	Networks          int `json:"networks"`
	Manifests         int `json:"manifests"`
	MaxConcurrentRuns int `json:"max_concurrent_runs"`
}

// CheckLimit fails when another run would exceed the concurrency bound.
func (r *Reaper) CheckLimit() error {
	if len(r.activeIDs()) >= r.cfg.MaxConcurrentRuns {
		return ErrRunLimitReached
	}
	return nil
}

// CleanupRun removes every resource that belongs to one run, regardless of
// whether that run is still registered. Used after force stops.
func (r *Reaper) CleanupRun(ctx context.Context, runID string) Report {
	var report Report
	for _, prefix := range manifest.ServicePrefixes {
		names, err := r.docker.ListContainers(ctx, prefix+runID)
		if err != nil {
			logs.Warnf("list containers %s%s: %v", prefix, runID, err)
			continue
		}
		for _, name := range names {
			r.removeContainer(ctx, name, &report.Containers)
		}
	}
	if networks, err := r.docker.ListNetworks(ctx, alloc.NetworkPrefix+runID); err == nil {
		for _, name := range networks {
			r.removeNetwork(ctx, name, &report.Networks)
		}
	}
	r.removeManifest(runID, &report.Manifests)
	return report
}

// FullCleanup sweeps every resource kind and removes whatever belongs to a
// run that is not currently active.
func (r *Reaper) FullCleanup(ctx context.Context) Report {
	var report Report
	active := r.activeSet()

	for _, prefix := range manifest.ServicePrefixes {
		names, err := r.docker.ListContainers(ctx, prefix)
		if err != nil {
			logs.Warnf("list containers %s*: %v", prefix, err)
			continue
		}
		for _, name := range names {
			if active[strings.TrimPrefix(name, prefix)] {
				continue
			}
			r.removeContainer(ctx, name, &report.Containers)
		}
	}

	networks, err := r.docker.ListNetworks(ctx, alloc.NetworkPrefix)
	if err != nil {
		logs.Warnf("list networks: %v", err)
	}
	for _, name := range networks {
		if active[strings.TrimPrefix(name, alloc.NetworkPrefix)] {
			continue
		}
		r.removeNetwork(ctx, name, &report.Networks)
	}

	ids, err := r.manifests.List()
	if err != nil {
		logs.Warnf("list manifests: %v", err)
	}
	for _, id := range ids {
		if active[id] {
			continue
		}
		r.removeManifest(id, &report.Manifests)
	}

	logs.Infof("cleanup removed %d containers, %d networks, %d manifests",
		len(report.Containers.Cleaned), len(report.Networks.Cleaned), len(report.Manifests.Cleaned))
	return report
}

// Usage counts live resources across all runs.
func (r *Reaper) Usage(ctx context.Context) Usage {
	usage := Usage{
		ActiveRuns:        len(r.activeIDs()),
		MaxConcurrentRuns: r.cfg.MaxConcurrentRuns,
	}
	for _, prefix := range manifest.ServicePrefixes {
		if names, err := r.docker.ListContainers(ctx, prefix); err == nil {
			usage.Containers += len(names)
		}
	}
	if networks, err := r.docker.ListNetworks(ctx, alloc.NetworkPrefix); err == nil {
		usage.Networks = len(networks)
	}
	if ids, err := r.manifests.List(); err == nil {
		usage.Manifests = len(ids)
	}
	return usage
}

func (r *Reaper) activeSet() map[string]bool {
	active := make(map[string]bool)
	for _, id := range r.activeIDs() {
		active[id] = true
	}
	return active
}

func (r *Reaper) removeContainer(ctx context.Context, name string, cat *Category) {
	if err := r.docker.StopContainer(ctx, name); err != nil {
		logs.Warnf("stop container %s: %v", name, err)
	}
	if err := r.docker.RemoveContainer(ctx, name); err != nil {
		cat.Failed = append(cat.Failed, name)
		return
	}
	cat.Cleaned = append(cat.Cleaned, name)
}

func (r *Reaper) removeNetwork(ctx context.Context, name string, cat *Category) {
	if err := r.docker.RemoveNetwork(ctx, name); err != nil {
		cat.Failed = append(cat.Failed, name)
		return
	}
	cat.Cleaned = append(cat.Cleaned, name)
}

func (r *Reaper) removeManifest(runID string, cat *Category) {
	if err := r.manifests.Remove(runID); err != nil {
		cat.Failed = append(cat.Failed, runID)
		return
	}
	cat.Cleaned = append(cat.Cleaned, runID)
}
