// Package store persists run outcomes. The relational side holds run
// summaries, trades and positions; the document side holds run configuration
// and algorithm versions.
package store

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradesim/internal/model"
	"tradesim/internal/model/enum"
)

var (
	ErrColumnNotAllowed = errors.New("column not allowed for update")
	ErrRunRowNotFound   = errors.New("run row not found")
)

// allowedRunColumns is the closed set of simulation_runs columns a telemetry
// update may touch. Everything else is rejected before the statement builds.
var allowedRunColumns = map[string]bool{
	"status":            true,
	"end_time":          true,
	"duration_seconds":  true,
	"algorithm_version": true,
	"initial_capital":   true,
	"final_capital":     true,
	"total_pnl":         true,
	"total_fees":        true,
	"net_pnl":           true,
	"return_pct":        true,
	"max_drawdown":      true,
	"total_trades":      true,
	"winning_trades":    true,
	"losing_trades":     true,
	"win_rate":          true,
	"signals_received":  true,
	"signals_executed":  true,
	"execution_rate":    true,
	"total_volume":      true,
	"sharpe_ratio":      true,
	"avg_win":           true,
	"avg_loss":          true,
}

// ResultsStore is the relational results store.
type ResultsStore struct {
	db *gorm.DB
}

// NewResultsStore wraps an open connection.
func NewResultsStore(db *gorm.DB) *ResultsStore {
	return &ResultsStore{db: db}
}

// Migrate creates or updates the schema.
func (s *ResultsStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&model.SimulationRun{},
		&model.Trade{},
		&model.Position{},
	)
}

// CreateRun inserts the initial row for a run.
func (s *ResultsStore) CreateRun(ctx context.Context, run *model.SimulationRun) error {
	if run.Status == "" {
		run.Status = enum.RunStatusRunning
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return errors.Wrap(err, "create run")
	}
	return nil
}

// UpdateRun applies a partial update to one run. Every key must be in the
// allow list; an empty update is a no-op.
func (s *ResultsStore) UpdateRun(ctx context.Context, runID string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	// The caller's map is retried and replayed verbatim, so it must never
	// be written to here.
	merged := make(map[string]any, len(updates)+1)
	for column, value := range updates {
		if !allowedRunColumns[column] {
			return errors.Wrap(ErrColumnNotAllowed, column)
		}
		merged[column] = value
	}
	merged["updated_at"] = time.Now()

	result := s.db.WithContext(ctx).
		Model(&model.SimulationRun{}).
		Where("run_id = ?", runID).
		Updates(merged)
	if result.Error != nil {
		return errors.Wrap(result.Error, "update run")
	}
	if result.RowsAffected == 0 {
		return ErrRunRowNotFound
	}
	return nil
}

// GetRun returns one run by its public id.
func (s *ResultsStore) GetRun(ctx context.Context, runID string) (*model.SimulationRun, error) {
	var run model.SimulationRun
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrRunRowNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get run")
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *ResultsStore) ListRuns(ctx context.Context, limit int) ([]model.SimulationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []model.SimulationRun
	err := s.db.WithContext(ctx).
		Order("start_time DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	return runs, nil
}

// AddTrade inserts one trade. Replays and redeliveries of the same
// (run_id, trade_id) pair are silently dropped.
func (s *ResultsStore) AddTrade(ctx context.Context, trade *model.Trade) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "trade_id"}},
			DoNothing: true,
		}).
		Create(trade).Error
	if err != nil {
		return errors.Wrap(err, "add trade")
	}
	return nil
}

// GetTrades returns every trade for a run in execution order.
func (s *ResultsStore) GetTrades(ctx context.Context, runID string) ([]model.Trade, error) {
	var trades []model.Trade
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("timestamp_ms ASC").
		Find(&trades).Error
	if err != nil {
		return nil, errors.Wrap(err, "get trades")
	}
	return trades, nil
}

// UpsertPosition writes the position snapshot for (run_id, symbol),
// replacing any previous snapshot.
func (s *ResultsStore) UpsertPosition(ctx context.Context, position *model.Position) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "run_id"}, {Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"quantity", "avg_price", "unrealized_pnl", "realized_pnl",
				"last_price", "last_update_ms",
			}),
		}).
		Create(position).Error
	if err != nil {
		return errors.Wrap(err, "upsert position")
	}
	return nil
}

// GetPositions returns the position snapshots for a run.
func (s *ResultsStore) GetPositions(ctx context.Context, runID string) ([]model.Position, error) {
	var positions []model.Position
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("symbol ASC").
		Find(&positions).Error
	if err != nil {
		return nil, errors.Wrap(err, "get positions")
	}
	return positions, nil
}

// PerformanceSummary aggregates completed runs.
type PerformanceSummary struct {
	TotalRuns    int64    `json:"total_runs"`
	AvgNetPnL    *float64 `json:"avg_net_pnl"`
	AvgReturnPct *float64 `json:"avg_return_pct"`
	AvgWinRate   *float64 `json:"avg_win_rate"`
	BestNetPnL   *float64 `json:"best_net_pnl"`
	WorstNetPnL  *float64 `json:"worst_net_pnl"`
	TotalTrades  int64    `json:"total_trades"`
}

// Summary computes aggregate performance across completed runs.
func (s *ResultsStore) Summary(ctx context.Context) (*PerformanceSummary, error) {
	var summary PerformanceSummary
	err := s.db.WithContext(ctx).
		Model(&model.SimulationRun{}).
		Select(`COUNT(*) AS total_runs,
			AVG(net_pnl) AS avg_net_pnl,
			AVG(return_pct) AS avg_return_pct,
			AVG(win_rate) AS avg_win_rate,
			MAX(net_pnl) AS best_net_pnl,
			MIN(net_pnl) AS worst_net_pnl,
			COALESCE(SUM(total_trades), 0) AS total_trades`).
		Where("status = ?", enum.RunStatusCompleted).
		Scan(&summary).Error
	if err != nil {
		return nil, errors.Wrap(err, "performance summary")
	}
	return &summary, nil
}
