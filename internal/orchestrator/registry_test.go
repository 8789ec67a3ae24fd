package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/model/enum"
)

func TestRegistryReserveIsAtomic(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Reserve("run_a", 60))
	assert.ErrorIs(t, r.Reserve("run_a", 60), ErrRunAlreadyActive)
	assert.Equal(t, 1, r.Len())

	run, ok := r.Get("run_a")
	require.True(t, ok)
	assert.Equal(t, enum.LifecycleStarting, run.Status)
	assert.Equal(t, 60, run.DurationSeconds)
}

func TestRegistryUpdateAndRemove(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Reserve("run_a", 0))

	ok := r.Update("run_a", func(run *Run) { run.Status = enum.LifecycleRunning })
	require.True(t, ok)

	removed, ok := r.Remove("run_a")
	require.True(t, ok)
	assert.Equal(t, enum.LifecycleRunning, removed.Status)
	assert.Equal(t, 0, r.Len())

	_, ok = r.Remove("run_a")
	assert.False(t, ok)
	assert.False(t, r.Update("run_a", func(*Run) {}))
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Reserve("run_a", 0))

	run, _ := r.Get("run_a")
	run.Status = enum.LifecycleError

	fresh, _ := r.Get("run_a")
	assert.Equal(t, enum.LifecycleStarting, fresh.Status)
}

func TestRegistryRemoveStopsTimer(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Reserve("run_a", 0))

	fired := make(chan struct{}, 1)
	r.Update("run_a", func(run *Run) {
		run.stopTimer = time.AfterFunc(30*time.Millisecond, func() { fired <- struct{}{} })
	})
	r.Remove("run_a")

	select {
	case <-fired:
		t.Fatal("timer fired after removal")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistryRunningIDs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Reserve("run_a", 0))
	require.NoError(t, r.Reserve("run_b", 0))
	r.Update("run_b", func(run *Run) { run.Status = enum.LifecycleRunning })

	assert.Len(t, r.ActiveIDs(), 2)
	assert.Equal(t, []string{"run_b"}, r.RunningIDs())
}
