package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/consume"
	"tradesim/internal/gateway"
	"tradesim/internal/model"
	"tradesim/internal/orchestrator"
	"tradesim/internal/reaper"
	"tradesim/internal/store"
)

type fakeRuns struct {
	startErr  error
	stopErr   error
	lastReq   orchestrator.StartRequest
	stopped   orchestrator.StopResult
	collected map[string]any
}

func (f *fakeRuns) Start(_ context.Context, req orchestrator.StartRequest) (string, error) {
	f.lastReq = req
	if f.startErr != nil {
		return "", f.startErr
	}
	if req.RunID != "" {
		return req.RunID, nil
	}
	return "sim_generated", nil
}

func (f *fakeRuns) Stop(_ context.Context, _ string) (orchestrator.StopResult, error) {
	return f.stopped, f.stopErr
}

func (f *fakeRuns) ForceStop(context.Context, string) error { return nil }

func (f *fakeRuns) StopAll(context.Context) map[string]bool {
	return map[string]bool{"sim_1": true}
}

func (f *fakeRuns) Status(_ context.Context, runID string) (orchestrator.StatusView, error) {
	if runID == "missing" {
		return orchestrator.StatusView{}, orchestrator.ErrRunNotFound
	}
	return orchestrator.StatusView{RunID: runID}, nil
}

func (f *fakeRuns) StatusAll(context.Context) orchestrator.Overview {
	return orchestrator.Overview{TotalActive: 1}
}

func (f *fakeRuns) LiveStats(context.Context, string) (map[string]any, error) {
	return map[string]any{"current_capital": 100500.0}, nil
}

func (f *fakeRuns) Results(string) (map[string]any, bool) {
	return f.collected, f.collected != nil
}

type fakeSweeper struct {
	limitErr   error
	cleanedRun string
}

func (f *fakeSweeper) CheckLimit() error { return f.limitErr }

func (f *fakeSweeper) CleanupRun(_ context.Context, runID string) reaper.Report {
	f.cleanedRun = runID
	return reaper.Report{Containers: reaper.Category{Cleaned: []string{"trade-simulator-" + runID}}}
}

func (f *fakeSweeper) FullCleanup(context.Context) reaper.Report { return reaper.Report{} }
func (f *fakeSweeper) Usage(context.Context) reaper.Usage        { return reaper.Usage{ActiveRuns: 3} }

type fakeConfigs struct {
	saved    []model.AlgoVersionDocument
	config   *model.RunConfigDocument
	versions []model.AlgoVersionDocument
}

func (f *fakeConfigs) GetRunConfig(_ context.Context, runID string) (*model.RunConfigDocument, error) {
	if f.config == nil || f.config.RunID != runID {
		return nil, store.ErrConfigNotFound
	}
	return f.config, nil
}

func (f *fakeConfigs) ListRunConfigs(context.Context, int64) ([]model.RunConfigDocument, error) {
	if f.config == nil {
		return nil, nil
	}
	return []model.RunConfigDocument{*f.config}, nil
}

func (f *fakeConfigs) SaveAlgorithmVersion(_ context.Context, doc model.AlgoVersionDocument) error {
	f.saved = append(f.saved, doc)
	return nil
}

func (f *fakeConfigs) GetAlgorithmVersion(_ context.Context, version string) (*model.AlgoVersionDocument, error) {
	for i := range f.versions {
		if f.versions[i].Version == version {
			return &f.versions[i], nil
		}
	}
	return nil, store.ErrVersionNotFound
}

func (f *fakeConfigs) ListAlgorithmVersions(context.Context) ([]model.AlgoVersionDocument, error) {
	return f.versions, nil
}

func newTestServer(runs Runs, sweeper Sweeper) *echo.Echo {
	return newTestServerWithConfigs(runs, nil, sweeper)
}

func newTestServerWithConfigs(runs Runs, configs Configs, sweeper Sweeper) *echo.Echo {
	e := echo.New()
	h := NewHandler(runs, nil, configs, sweeper,
		func() consume.Stats { return consume.Stats{Processed: 9} },
		func() gateway.Stats { return gateway.Stats{BreakerState: "closed"} },
	)
	h.Register(e)
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestStartReturnsRunID(t *testing.T) {
	runs := &fakeRuns{}
	rec := do(newTestServer(runs, &fakeSweeper{}), http.MethodPost, "/simulation/start",
		`{"run_id":"sim_1","duration_seconds":60,"algo_config":{"IMBALANCE_THRESHOLD":0.7}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sim_1", resp["run_id"])
	assert.Equal(t, "started", resp["status"])

	require.NotNil(t, runs.lastReq.Algo)
	require.NotNil(t, runs.lastReq.Algo.ImbalanceThreshold)
	assert.Equal(t, 0.7, *runs.lastReq.Algo.ImbalanceThreshold)
	assert.Nil(t, runs.lastReq.Simulator)
}

func TestStartDuplicateIsConflict(t *testing.T) {
	runs := &fakeRuns{startErr: orchestrator.ErrRunAlreadyActive}
	rec := do(newTestServer(runs, &fakeSweeper{}), http.MethodPost, "/simulation/start",
		`{"run_id":"sim_1","duration_seconds":60}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartRejectsNonPositiveDuration(t *testing.T) {
	e := newTestServer(&fakeRuns{}, &fakeSweeper{})

	assert.Equal(t, http.StatusBadRequest,
		do(e, http.MethodPost, "/simulation/start", `{"duration_seconds":-5}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(e, http.MethodPost, "/simulation/start", `{"duration_seconds":0}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(e, http.MethodPost, "/simulation/start", `{"run_id":"sim_1"}`).Code)
}

func TestStartHonorsRunLimit(t *testing.T) {
	sweeper := &fakeSweeper{limitErr: reaper.ErrRunLimitReached}
	rec := do(newTestServer(&fakeRuns{}, sweeper), http.MethodPost, "/simulation/start",
		`{"duration_seconds":60}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestStopUnknownRunIs404(t *testing.T) {
	runs := &fakeRuns{stopErr: orchestrator.ErrRunNotFound}
	rec := do(newTestServer(runs, &fakeSweeper{}), http.MethodPost, "/simulation/stop/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopIncludesResults(t *testing.T) {
	runs := &fakeRuns{stopped: orchestrator.StopResult{Stopped: true, Results: map[string]any{"net_pnl": 500.0}}}
	rec := do(newTestServer(runs, &fakeSweeper{}), http.MethodPost, "/simulation/stop/sim_1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["stopped"])
	assert.Equal(t, 500.0, resp["results"].(map[string]any)["net_pnl"])
}

func TestStatusRoutes(t *testing.T) {
	e := newTestServer(&fakeRuns{}, &fakeSweeper{})

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/simulation/status", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/simulation/status/sim_1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/simulation/status/missing", "").Code)
}

func TestResourceAndStatsRoutes(t *testing.T) {
	e := newTestServer(&fakeRuns{}, &fakeSweeper{})

	rec := do(e, http.MethodGet, "/resources/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var usage reaper.Usage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Equal(t, 3, usage.ActiveRuns)

	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/resources/cleanup", "").Code)

	rec = do(e, http.MethodGet, "/consumer/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 9.0, stats["consumer"]["messages_processed"])
	assert.Equal(t, "closed", stats["gateway"]["circuit_breaker_state"])
}

func TestResultsRoutesWithoutStore(t *testing.T) {
	e := newTestServer(&fakeRuns{}, &fakeSweeper{})
	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/results", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/results/sim_1", "").Code)
}

func TestForceStopSweepsRunResources(t *testing.T) {
	sweeper := &fakeSweeper{}
	rec := do(newTestServer(&fakeRuns{}, sweeper), http.MethodPost, "/simulation/force-stop/sim_1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sim_1", sweeper.cleanedRun)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "cleanup")
}

func TestCollectedResultsRoute(t *testing.T) {
	runs := &fakeRuns{collected: map[string]any{"net_pnl": 500.0}}
	rec := do(newTestServer(runs, &fakeSweeper{}), http.MethodGet, "/simulation/results/sim_1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 500.0, resp["results"].(map[string]any)["net_pnl"])

	rec = do(newTestServer(&fakeRuns{}, &fakeSweeper{}), http.MethodGet, "/simulation/results/sim_1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunConfigRoutes(t *testing.T) {
	configs := &fakeConfigs{config: &model.RunConfigDocument{RunID: "sim_1"}}
	e := newTestServerWithConfigs(&fakeRuns{}, configs, &fakeSweeper{})

	rec := do(e, http.MethodGet, "/simulation/config/sim_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc model.RunConfigDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "sim_1", doc.RunID)

	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/simulation/config/missing", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/simulation/configs", "").Code)
}

func TestAlgorithmVersionRoutes(t *testing.T) {
	configs := &fakeConfigs{versions: []model.AlgoVersionDocument{{Version: "v2.0.0"}}}
	e := newTestServerWithConfigs(&fakeRuns{}, configs, &fakeSweeper{})

	rec := do(e, http.MethodPost, "/algorithm/versions",
		`{"version":"v2.1.0","description":"tighter cooldown"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, configs.saved, 1)
	assert.Equal(t, "v2.1.0", configs.saved[0].Version)

	assert.Equal(t, http.StatusBadRequest,
		do(e, http.MethodPost, "/algorithm/versions", `{"description":"no version"}`).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/algorithm/versions", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/algorithm/versions/v2.0.0", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/algorithm/versions/v9.9.9", "").Code)
}

func TestConfigRoutesWithoutStore(t *testing.T) {
	e := newTestServer(&fakeRuns{}, &fakeSweeper{})
	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/simulation/config/sim_1", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/algorithm/versions", "").Code)
}
