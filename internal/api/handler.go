// Package api exposes the orchestrator, stores and consumer over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/yanun0323/logs"

	"tradesim/internal/compose"
	"tradesim/internal/consume"
	"tradesim/internal/gateway"
	"tradesim/internal/model"
	"tradesim/internal/orchestrator"
	"tradesim/internal/reaper"
	"tradesim/internal/store"
)

// Runs is the orchestration surface the API exposes.
type Runs interface {
	Start(ctx context.Context, req orchestrator.StartRequest) (string, error)
	Stop(ctx context.Context, runID string) (orchestrator.StopResult, error)
	ForceStop(ctx context.Context, runID string) error
	StopAll(ctx context.Context) map[string]bool
	Status(ctx context.Context, runID string) (orchestrator.StatusView, error)
	StatusAll(ctx context.Context) orchestrator.Overview
	LiveStats(ctx context.Context, runID string) (map[string]any, error)
	Results(runID string) (map[string]any, bool)
}

// Results is the read side of the relational results store.
type Results interface {
	GetRun(ctx context.Context, runID string) (*model.SimulationRun, error)
	ListRuns(ctx context.Context, limit int) ([]model.SimulationRun, error)
	GetTrades(ctx context.Context, runID string) ([]model.Trade, error)
	GetPositions(ctx context.Context, runID string) ([]model.Position, error)
	Summary(ctx context.Context) (*store.PerformanceSummary, error)
}

// Configs is the document-store surface the API exposes: per-run
// configuration reads and the algorithm version register.
type Configs interface {
	GetRunConfig(ctx context.Context, runID string) (*model.RunConfigDocument, error)
	ListRunConfigs(ctx context.Context, limit int64) ([]model.RunConfigDocument, error)
	SaveAlgorithmVersion(ctx context.Context, doc model.AlgoVersionDocument) error
	GetAlgorithmVersion(ctx context.Context, version string) (*model.AlgoVersionDocument, error)
	ListAlgorithmVersions(ctx context.Context) ([]model.AlgoVersionDocument, error)
}

// Sweeper is the resource-reaper surface the API exposes.
type Sweeper interface {
	CheckLimit() error
	CleanupRun(ctx context.Context, runID string) reaper.Report
	FullCleanup(ctx context.Context) reaper.Report
	Usage(ctx context.Context) reaper.Usage
}

// Handler wires every HTTP route. Results, configs, sweeper and the stats
// providers may be nil; their routes then report service unavailable or zero
// values.
type Handler struct {
	runs          Runs
	results       Results
	configs       Configs
	sweeper       Sweeper
	consumerStats func() consume.Stats
	gatewayStats  func() gateway.Stats
}

// NewHandler creates a handler.
func NewHandler(runs Runs, results Results, configs Configs, sweeper Sweeper, consumerStats func() consume.Stats, gatewayStats func() gateway.Stats) *Handler {
	return &Handler{
		runs:          runs,
		results:       results,
		configs:       configs,
		sweeper:       sweeper,
		consumerStats: consumerStats,
		gatewayStats:  gatewayStats,
	}
}

// Register mounts every route on e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.health)

	e.POST("/simulation/start", h.start)
	e.POST("/simulation/stop/:id", h.stop)
	e.POST("/simulation/stop-all", h.stopAll)
	e.POST("/simulation/force-stop/:id", h.forceStop)
	e.GET("/simulation/status", h.statusAll)
	e.GET("/simulation/status/:id", h.status)
	e.GET("/simulation/stats/:id", h.liveStats)
	e.GET("/simulation/results/:id", h.collectedResults)
	e.GET("/simulation/configs", h.listConfigs)
	e.GET("/simulation/config/:id", h.getConfig)

	e.POST("/algorithm/versions", h.saveVersion)
	e.GET("/algorithm/versions", h.listVersions)
	e.GET("/algorithm/versions/:version", h.getVersion)

	e.GET("/results", h.listResults)
	e.GET("/results/summary", h.resultsSummary)
	e.GET("/results/:id", h.getResults)

	e.POST("/resources/cleanup", h.cleanup)
	e.GET("/resources/usage", h.usage)
	e.GET("/consumer/stats", h.stats)
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

type startRequest struct {
	RunID string `json:"run_id"`
	// DurationSeconds must be positive; the pipeline auto-stops when it
	// elapses.
	DurationSeconds int                    `json:"duration_seconds"`
	AlgoVersion     string                 `json:"algorithm_version"`
	Algo            *model.AlgoConfig      `json:"algo_config"`
	Simulator       *model.SimulatorConfig `json:"simulator_config"`
	Metadata        map[string]any         `json:"metadata"`
}

func (h *Handler) start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DurationSeconds <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "duration_seconds must be positive")
	}
	if h.sweeper != nil {
		if err := h.sweeper.CheckLimit(); err != nil {
			return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
		}
	}

	runID, err := h.runs.Start(c.Request().Context(), orchestrator.StartRequest{
		RunID:           req.RunID,
		DurationSeconds: req.DurationSeconds,
		AlgoVersion:     req.AlgoVersion,
		Algo:            req.Algo,
		Simulator:       req.Simulator,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return runError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"run_id": runID, "status": "started"})
}

func (h *Handler) stop(c echo.Context) error {
	runID := c.Param("id")
	result, err := h.runs.Stop(c.Request().Context(), runID)
	if err != nil {
		return runError(err)
	}
	resp := echo.Map{"run_id": runID, "stopped": result.Stopped}
	if result.Results != nil {
		resp["results"] = result.Results
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) stopAll(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"stopped": h.runs.StopAll(c.Request().Context())})
}

func (h *Handler) forceStop(c echo.Context) error {
	runID := c.Param("id")
	if err := h.runs.ForceStop(c.Request().Context(), runID); err != nil {
		return runError(err)
	}
	resp := echo.Map{"run_id": runID, "force_stopped": true}
	if h.sweeper != nil {
		// Compose may leave stray containers or the network behind after a
		// kill; sweep everything tagged with this run id.
		resp["cleanup"] = h.sweeper.CleanupRun(c.Request().Context(), runID)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) status(c echo.Context) error {
	view, err := h.runs.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return runError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) statusAll(c echo.Context) error {
	return c.JSON(http.StatusOK, h.runs.StatusAll(c.Request().Context()))
}

func (h *Handler) liveStats(c echo.Context) error {
	stats, err := h.runs.LiveStats(c.Request().Context(), c.Param("id"))
	if err != nil {
		return runError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) collectedResults(c echo.Context) error {
	runID := c.Param("id")
	results, ok := h.runs.Results(runID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no collected results for run")
	}
	return c.JSON(http.StatusOK, echo.Map{"run_id": runID, "results": results})
}

func (h *Handler) getConfig(c echo.Context) error {
	if h.configs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "config store not configured")
	}
	doc, err := h.configs.GetRunConfig(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run config not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) listConfigs(c echo.Context) error {
	if h.configs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "config store not configured")
	}
	docs, err := h.configs.ListRunConfigs(c.Request().Context(), int64(intQuery(c, "limit")))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"configs": docs, "count": len(docs)})
}

func (h *Handler) saveVersion(c echo.Context) error {
	if h.configs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "config store not configured")
	}
	var doc model.AlgoVersionDocument
	if err := c.Bind(&doc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if doc.Version == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "version is required")
	}
	if err := h.configs.SaveAlgorithmVersion(c.Request().Context(), doc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"version": doc.Version, "status": "saved"})
}

func (h *Handler) getVersion(c echo.Context) error {
	if h.configs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "config store not configured")
	}
	doc, err := h.configs.GetAlgorithmVersion(c.Request().Context(), c.Param("version"))
	if err != nil {
		if errors.Is(err, store.ErrVersionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "algorithm version not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) listVersions(c echo.Context) error {
	if h.configs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "config store not configured")
	}
	docs, err := h.configs.ListAlgorithmVersions(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"versions": docs, "count": len(docs)})
}

func (h *Handler) listResults(c echo.Context) error {
	if h.results == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "results store not configured")
	}
	runs, err := h.results.ListRuns(c.Request().Context(), intQuery(c, "limit"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"runs": runs, "count": len(runs)})
}

func (h *Handler) getResults(c echo.Context) error {
	if h.results == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "results store not configured")
	}
	ctx := c.Request().Context()
	runID := c.Param("id")

	run, err := h.results.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrRunRowNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	trades, err := h.results.GetTrades(ctx, runID)
	if err != nil {
		logs.Warnf("load trades for %s: %v", runID, err)
	}
	positions, err := h.results.GetPositions(ctx, runID)
	if err != nil {
		logs.Warnf("load positions for %s: %v", runID, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"run":       run,
		"trades":    trades,
		"positions": positions,
	})
}

func (h *Handler) resultsSummary(c echo.Context) error {
	if h.results == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "results store not configured")
	}
	summary, err := h.results.Summary(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) cleanup(c echo.Context) error {
	if h.sweeper == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reaper not configured")
	}
	return c.JSON(http.StatusOK, h.sweeper.FullCleanup(c.Request().Context()))
}

func (h *Handler) usage(c echo.Context) error {
	if h.sweeper == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reaper not configured")
	}
	return c.JSON(http.StatusOK, h.sweeper.Usage(c.Request().Context()))
}

func (h *Handler) stats(c echo.Context) error {
	resp := echo.Map{}
	if h.consumerStats != nil {
		resp["consumer"] = h.consumerStats()
	}
	if h.gatewayStats != nil {
		resp["gateway"] = h.gatewayStats()
	}
	return c.JSON(http.StatusOK, resp)
}

// runError maps orchestration failures onto HTTP statuses.
func runError(err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrRunNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrRunAlreadyActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, compose.ErrRuntimeUnavailable), errors.Is(err, orchestrator.ErrResultsNotReady):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func intQuery(c echo.Context, name string) int {
	value := 0
	if raw := c.QueryParam(name); raw != "" {
		echo.QueryParamsBinder(c).Int(name, &value)
	}
	return value
}
