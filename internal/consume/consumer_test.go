package consume

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	liveErr   error
	finalErr  error
	tradeErr  error
	liveCalls []string
	data      map[string]any
}

func (f *fakeSink) UpdateLiveStats(_ context.Context, runID string, data map[string]any) error {
	f.liveCalls = append(f.liveCalls, runID)
	f.data = data
	return f.liveErr
}

func (f *fakeSink) ApplyFinalResults(_ context.Context, runID string, data map[string]any) error {
	f.data = data
	return f.finalErr
}

func (f *fakeSink) StoreTrade(_ context.Context, runID string, data map[string]any) error {
	f.data = data
	return f.tradeErr
}

func entry(msgType, runID, data string) redis.XMessage {
	values := map[string]any{"type": msgType, "run_id": runID}
	if data != "" {
		values["data"] = data
	}
	return redis.XMessage{ID: "1-0", Values: values}
}

func TestProcessDispatchesLiveStats(t *testing.T) {
	sink := &fakeSink{}
	c := New(Config{}, nil, sink)

	ack := c.process(context.Background(), entry("live_stats", "sim_1", `{"financials":{"net_pnl":500}}`))
	assert.True(t, ack)
	require.Equal(t, []string{"sim_1"}, sink.liveCalls)
	assert.Equal(t, 500.0, sink.data["financials"].(map[string]any)["net_pnl"])
	assert.Equal(t, int64(1), c.Stats().Processed)
}

func TestProcessHandlerFailureLeavesUnacked(t *testing.T) {
	sink := &fakeSink{tradeErr: assert.AnError}
	c := New(Config{}, nil, sink)

	ack := c.process(context.Background(), entry("trade_event", "sim_1", `{"trade_id":1}`))
	assert.False(t, ack)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Processed)
	assert.Contains(t, stats.LastError, assert.AnError.Error())
}

func TestProcessUnknownTypeCountedAndAcked(t *testing.T) {
	sink := &fakeSink{}
	c := New(Config{}, nil, sink)

	ack := c.process(context.Background(), entry("heartbeat", "sim_1", `{}`))
	assert.True(t, ack)
	assert.Equal(t, int64(1), c.Stats().Unknown)
	assert.Equal(t, int64(0), c.Stats().Processed)
}

func TestProcessUnparseableEntryAcked(t *testing.T) {
	sink := &fakeSink{}
	c := New(Config{}, nil, sink)

	assert.True(t, c.process(context.Background(), entry("live_stats", "sim_1", `{not json`)))
	assert.True(t, c.process(context.Background(), redis.XMessage{ID: "2-0", Values: map[string]any{}}))
	assert.Equal(t, int64(2), c.Stats().ParseErrors)
	assert.Empty(t, sink.liveCalls)
}

func TestProcessMissingDataIsEmptyPayload(t *testing.T) {
	sink := &fakeSink{}
	c := New(Config{}, nil, sink)

	ack := c.process(context.Background(), entry("live_stats", "sim_1", ""))
	assert.True(t, ack)
	assert.Empty(t, sink.data)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "trading-events", cfg.Stream)
	assert.Equal(t, "trading-api-group", cfg.Group)
	assert.Equal(t, "trading-api-consumer", cfg.Consumer)
	assert.Equal(t, int64(10), cfg.BatchSize)
}
