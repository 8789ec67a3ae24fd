package model

import (
	"time"

	"tradesim/internal/model/enum"
)

// SimulationRun is one row in the relational results store. Metrics are
// pointers so partial updates can distinguish "absent" from zero.
type SimulationRun struct {
	ID              uint           `gorm:"primaryKey" json:"-"`
	RunID           string         `gorm:"column:run_id;uniqueIndex" json:"run_id"`
	StartTime       time.Time      `gorm:"column:start_time" json:"start_time"`
	EndTime         *time.Time     `gorm:"column:end_time" json:"end_time,omitempty"`
	DurationSeconds int            `gorm:"column:duration_seconds" json:"duration_seconds"`
	AlgoVersion     string         `gorm:"column:algorithm_version" json:"algorithm_version,omitempty"`
	Status          enum.RunStatus `gorm:"column:status" json:"status"`

	// Financial metrics.
	InitialCapital *float64 `gorm:"column:initial_capital" json:"initial_capital,omitempty"`
	FinalCapital   *float64 `gorm:"column:final_capital" json:"final_capital,omitempty"`
	TotalPnL       *float64 `gorm:"column:total_pnl" json:"total_pnl,omitempty"`
	TotalFees      *float64 `gorm:"column:total_fees" json:"total_fees,omitempty"`
	NetPnL         *float64 `gorm:"column:net_pnl" json:"net_pnl,omitempty"`
	ReturnPct      *float64 `gorm:"column:return_pct" json:"return_pct,omitempty"`
	MaxDrawdown    *float64 `gorm:"column:max_drawdown" json:"max_drawdown,omitempty"`

	// Trading metrics.
	TotalTrades     int      `gorm:"column:total_trades" json:"total_trades"`
	WinningTrades   int      `gorm:"column:winning_trades" json:"winning_trades"`
	LosingTrades    int      `gorm:"column:losing_trades" json:"losing_trades"`
	WinRate         *float64 `gorm:"column:win_rate" json:"win_rate,omitempty"`
	SignalsReceived int      `gorm:"column:signals_received" json:"signals_received"`
	SignalsExecuted int      `gorm:"column:signals_executed" json:"signals_executed"`
	ExecutionRate   *float64 `gorm:"column:execution_rate" json:"execution_rate,omitempty"`
	TotalVolume     *float64 `gorm:"column:total_volume" json:"total_volume,omitempty"`

	// Performance metrics.
	SharpeRatio *float64 `gorm:"column:sharpe_ratio" json:"sharpe_ratio,omitempty"`
	AvgWin      *float64 `gorm:"column:avg_win" json:"avg_win,omitempty"`
	AvgLoss     *float64 `gorm:"column:avg_loss" json:"avg_loss,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (SimulationRun) TableName() string { return "simulation_runs" }

// Trade is one executed trade reported by a simulation pipeline.
type Trade struct {
	ID          uint           `gorm:"primaryKey" json:"-"`
	RunID       string         `gorm:"column:run_id;uniqueIndex:idx_trades_run_trade" json:"run_id"`
	TradeID     int64          `gorm:"column:trade_id;uniqueIndex:idx_trades_run_trade" json:"trade_id"`
	Symbol      string         `gorm:"column:symbol" json:"symbol"`
	Side        enum.TradeSide `gorm:"column:side" json:"side"`
	Quantity    float64        `gorm:"column:quantity" json:"quantity"`
	Price       float64        `gorm:"column:price" json:"price"`
	TimestampMS int64          `gorm:"column:timestamp_ms" json:"timestamp_ms"`
	Confidence  *float64       `gorm:"column:confidence" json:"confidence,omitempty"`
	Fees        *float64       `gorm:"column:fees" json:"fees,omitempty"`
	SourceAlgo  string         `gorm:"column:source_algo" json:"source_algo,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Trade) TableName() string { return "trades" }

// Position is the per-symbol position snapshot for a run, upserted on
// (run_id, symbol).
type Position struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	RunID         string    `gorm:"column:run_id;uniqueIndex:idx_positions_run_symbol" json:"run_id"`
	Symbol        string    `gorm:"column:symbol;uniqueIndex:idx_positions_run_symbol" json:"symbol"`
	Quantity      float64   `gorm:"column:quantity" json:"quantity"`
	AvgPrice      *float64  `gorm:"column:avg_price" json:"avg_price,omitempty"`
	UnrealizedPnL *float64  `gorm:"column:unrealized_pnl" json:"unrealized_pnl,omitempty"`
	RealizedPnL   *float64  `gorm:"column:realized_pnl" json:"realized_pnl,omitempty"`
	LastPrice     *float64  `gorm:"column:last_price" json:"last_price,omitempty"`
	LastUpdateMS  *int64    `gorm:"column:last_update_ms" json:"last_update_ms,omitempty"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Position) TableName() string { return "positions" }
