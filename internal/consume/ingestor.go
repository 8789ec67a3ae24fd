package consume

import (
	"context"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/model"
	"tradesim/internal/model/enum"
)

var (
	ErrMissingTradeID = errors.New("trade payload missing trade_id")
	ErrInvalidSide    = errors.New("trade payload has invalid side")
)

// RunWriter is the protected results-store surface the ingestor writes
// through.
type RunWriter interface {
	UpdateRun(ctx context.Context, runID string, updates map[string]any) error
	AddTrade(ctx context.Context, trade *model.Trade) error
	UpsertPosition(ctx context.Context, position *model.Position) error
}

// StatusWriter mirrors terminal run status into the config store.
type StatusWriter interface {
	UpdateRunStatus(ctx context.Context, runID string, status enum.RunStatus) error
}

// Ingestor turns telemetry payloads into store writes. It is the Sink behind
// the stream consumer.
type Ingestor struct {
	writer   RunWriter
	statuses StatusWriter
}

// NewIngestor creates an ingestor. statuses may be nil.
func NewIngestor(writer RunWriter, statuses StatusWriter) *Ingestor {
	return &Ingestor{writer: writer, statuses: statuses}
}

// UpdateLiveStats maps one live payload onto the run row. A payload that
// carries no recognizable metric is a no-op success.
func (i *Ingestor) UpdateLiveStats(ctx context.Context, runID string, data map[string]any) error {
	return i.writer.UpdateRun(ctx, runID, mapStats(data))
}

// ApplyFinalResults maps the final payload, marks the run completed with an
// end time, and persists any embedded trades and position snapshots.
func (i *Ingestor) ApplyFinalResults(ctx context.Context, runID string, data map[string]any) error {
	updates := mapStats(data)
	updates["status"] = string(enum.RunStatusCompleted)
	updates["end_time"] = time.Now()
	if err := i.writer.UpdateRun(ctx, runID, updates); err != nil {
		return err
	}

	if rawTrades, ok := data["trades"].([]any); ok {
		for _, raw := range rawTrades {
			payload, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			trade, err := parseTrade(runID, payload)
			if err != nil {
				logs.Warnf("skip malformed trade in final results for %s: %v", runID, err)
				continue
			}
			if err := i.writer.AddTrade(ctx, trade); err != nil {
				return err
			}
		}
	}

	for symbol, raw := range positionsBySymbol(data) {
		payload, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if err := i.writer.UpsertPosition(ctx, parsePosition(runID, symbol, payload)); err != nil {
			return err
		}
	}

	if i.statuses != nil {
		if err := i.statuses.UpdateRunStatus(ctx, runID, enum.RunStatusCompleted); err != nil {
			logs.Warnf("mirror completed status for %s: %v", runID, err)
		}
	}
	return nil
}

// ApplyStopResults persists a snapshot collected while tearing a run down,
// stamping the terminal status and end time onto the run row. A nil snapshot
// still settles the status. The config-store mirror is best effort.
func (i *Ingestor) ApplyStopResults(ctx context.Context, runID string, status enum.RunStatus, data map[string]any) error {
	updates := mapStats(data)
	updates["status"] = string(status)
	updates["end_time"] = time.Now()
	if err := i.writer.UpdateRun(ctx, runID, updates); err != nil {
		return err
	}
	if i.statuses != nil {
		if err := i.statuses.UpdateRunStatus(ctx, runID, status); err != nil {
			logs.Warnf("mirror %s status for %s: %v", status, runID, err)
		}
	}
	return nil
}

// StoreTrade inserts one trade row.
func (i *Ingestor) StoreTrade(ctx context.Context, runID string, data map[string]any) error {
	trade, err := parseTrade(runID, data)
	if err != nil {
		return err
	}
	return i.writer.AddTrade(ctx, trade)
}

func positionsBySymbol(data map[string]any) map[string]any {
	if positions, ok := data["positions"].(map[string]any); ok {
		return positions
	}
	if positions, ok := data["positions_by_symbol"].(map[string]any); ok {
		return positions
	}
	return nil
}

func parseTrade(runID string, data map[string]any) (*model.Trade, error) {
	rawID, ok := data["trade_id"]
	if !ok {
		return nil, ErrMissingTradeID
	}
	id, ok := toFloat(rawID)
	if !ok {
		return nil, ErrMissingTradeID
	}

	side := enum.TradeSide(strings.ToUpper(str(data["side"])))
	if !side.IsAvailable() {
		return nil, errors.Wrap(ErrInvalidSide, str(data["side"]))
	}

	trade := &model.Trade{
		RunID:      runID,
		TradeID:    int64(id),
		Symbol:     str(data["symbol"]),
		Side:       side,
		SourceAlgo: str(data["source_algo"]),
	}
	trade.Quantity, _ = toFloat(data["quantity"])
	trade.Price, _ = toFloat(data["price"])
	if ts, ok := firstFloat(data, "timestamp_ms", "timestamp"); ok {
		trade.TimestampMS = int64(ts)
	}
	if confidence, ok := toFloat(data["confidence"]); ok {
		trade.Confidence = &confidence
	}
	if fees, ok := toFloat(data["fees"]); ok {
		trade.Fees = &fees
	}
	return trade, nil
}

func parsePosition(runID, symbol string, data map[string]any) *model.Position {
	position := &model.Position{RunID: runID, Symbol: symbol}
	position.Quantity, _ = toFloat(data["quantity"])
	if v, ok := firstFloat(data, "avg_price", "average_price"); ok {
		position.AvgPrice = &v
	}
	if v, ok := toFloat(data["unrealized_pnl"]); ok {
		position.UnrealizedPnL = &v
	}
	if v, ok := toFloat(data["realized_pnl"]); ok {
		position.RealizedPnL = &v
	}
	if v, ok := toFloat(data["last_price"]); ok {
		position.LastPrice = &v
	}
	if v, ok := firstFloat(data, "last_update_ms", "last_update"); ok {
		ms := int64(v)
		position.LastUpdateMS = &ms
	}
	return position
}

func firstFloat(data map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := toFloat(data[key]); ok {
			return v, true
		}
	}
	return 0, false
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
