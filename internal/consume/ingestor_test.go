package consume

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/model"
	"tradesim/internal/model/enum"
)

type fakeRunWriter struct {
	updateErr error
	updates   []map[string]any
	trades    []model.Trade
	positions []model.Position
}

func (f *fakeRunWriter) UpdateRun(_ context.Context, _ string, updates map[string]any) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, updates)
	return nil
}

func (f *fakeRunWriter) AddTrade(_ context.Context, trade *model.Trade) error {
	f.trades = append(f.trades, *trade)
	return nil
}

func (f *fakeRunWriter) UpsertPosition(_ context.Context, position *model.Position) error {
	f.positions = append(f.positions, *position)
	return nil
}

type fakeStatusWriter struct {
	statuses map[string]enum.RunStatus
}

func (f *fakeStatusWriter) UpdateRunStatus(_ context.Context, runID string, status enum.RunStatus) error {
	if f.statuses == nil {
		f.statuses = make(map[string]enum.RunStatus)
	}
	f.statuses[runID] = status
	return nil
}

func TestUpdateLiveStatsMapsNestedPayload(t *testing.T) {
	writer := &fakeRunWriter{}
	ing := NewIngestor(writer, nil)

	err := ing.UpdateLiveStats(context.Background(), "sim_1", map[string]any{
		"financials": map[string]any{"net_pnl": 500.0},
	})
	require.NoError(t, err)
	require.Len(t, writer.updates, 1)
	assert.Equal(t, 500.0, writer.updates[0]["net_pnl"])
}

func TestApplyFinalResultsPersistsEverything(t *testing.T) {
	writer := &fakeRunWriter{}
	statuses := &fakeStatusWriter{}
	ing := NewIngestor(writer, statuses)

	err := ing.ApplyFinalResults(context.Background(), "sim_1", map[string]any{
		"net_pnl": 512.5,
		"trades": []any{
			map[string]any{"trade_id": 1.0, "symbol": "BTCUSDT", "side": "buy", "quantity": 0.5, "price": 50000.0},
			map[string]any{"symbol": "no-id"},
		},
		"positions": map[string]any{
			"BTCUSDT": map[string]any{"quantity": 0.5, "avg_price": 50000.0},
		},
	})
	require.NoError(t, err)

	require.Len(t, writer.updates, 1)
	updates := writer.updates[0]
	assert.Equal(t, 512.5, updates["net_pnl"])
	assert.Equal(t, string(enum.RunStatusCompleted), updates["status"])
	assert.NotNil(t, updates["end_time"])

	require.Len(t, writer.trades, 1, "malformed trades are skipped")
	assert.Equal(t, int64(1), writer.trades[0].TradeID)
	assert.Equal(t, enum.TradeSideBuy, writer.trades[0].Side)

	require.Len(t, writer.positions, 1)
	assert.Equal(t, "BTCUSDT", writer.positions[0].Symbol)
	require.NotNil(t, writer.positions[0].AvgPrice)
	assert.Equal(t, 50000.0, *writer.positions[0].AvgPrice)

	assert.Equal(t, enum.RunStatusCompleted, statuses.statuses["sim_1"])
}

func TestApplyStopResultsSettlesRun(t *testing.T) {
	writer := &fakeRunWriter{}
	statuses := &fakeStatusWriter{}
	ing := NewIngestor(writer, statuses)

	err := ing.ApplyStopResults(context.Background(), "sim_1", enum.RunStatusCompleted, map[string]any{
		"financials": map[string]any{"net_pnl": 500.0},
	})
	require.NoError(t, err)

	require.Len(t, writer.updates, 1)
	assert.Equal(t, 500.0, writer.updates[0]["net_pnl"])
	assert.Equal(t, string(enum.RunStatusCompleted), writer.updates[0]["status"])
	assert.NotNil(t, writer.updates[0]["end_time"])
	assert.Equal(t, enum.RunStatusCompleted, statuses.statuses["sim_1"])
}

func TestApplyStopResultsWithoutSnapshot(t *testing.T) {
	writer := &fakeRunWriter{}
	statuses := &fakeStatusWriter{}
	ing := NewIngestor(writer, statuses)

	err := ing.ApplyStopResults(context.Background(), "sim_1", enum.RunStatusStopped, nil)
	require.NoError(t, err)

	require.Len(t, writer.updates, 1)
	assert.Equal(t, string(enum.RunStatusStopped), writer.updates[0]["status"])
	assert.NotNil(t, writer.updates[0]["end_time"])
	assert.Equal(t, enum.RunStatusStopped, statuses.statuses["sim_1"])
}

func TestApplyFinalResultsPropagatesUpdateFailure(t *testing.T) {
	writer := &fakeRunWriter{updateErr: assert.AnError}
	ing := NewIngestor(writer, nil)

	err := ing.ApplyFinalResults(context.Background(), "sim_1", map[string]any{"net_pnl": 1.0})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, writer.trades)
}

func TestStoreTradeValidation(t *testing.T) {
	writer := &fakeRunWriter{}
	ing := NewIngestor(writer, nil)

	err := ing.StoreTrade(context.Background(), "sim_1", map[string]any{
		"trade_id": 7.0, "symbol": "ETHUSDT", "side": "SELL",
		"quantity": 2.0, "price": 3000.0, "timestamp_ms": 1700000000000.0,
		"confidence": 0.8, "fees": 1.5,
	})
	require.NoError(t, err)
	require.Len(t, writer.trades, 1)

	trade := writer.trades[0]
	assert.Equal(t, enum.TradeSideSell, trade.Side)
	assert.Equal(t, int64(1700000000000), trade.TimestampMS)
	require.NotNil(t, trade.Confidence)
	assert.Equal(t, 0.8, *trade.Confidence)

	err = ing.StoreTrade(context.Background(), "sim_1", map[string]any{"symbol": "BTCUSDT", "side": "BUY"})
	assert.ErrorIs(t, err, ErrMissingTradeID)

	err = ing.StoreTrade(context.Background(), "sim_1", map[string]any{"trade_id": 1.0, "side": "HOLD"})
	assert.ErrorContains(t, err, "invalid side")
}
