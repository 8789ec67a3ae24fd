package consume

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapStatsFlatPayload(t *testing.T) {
	updates := mapStats(map[string]any{
		"net_pnl":      500.0,
		"total_trades": 42.0,
		"win_rate":     0.61,
		"ignored":      "text",
	})

	assert.Equal(t, map[string]any{
		"net_pnl":      500.0,
		"total_trades": 42,
		"win_rate":     0.61,
	}, updates)
}

func TestMapStatsNestedAliases(t *testing.T) {
	updates := mapStats(map[string]any{
		"financials": map[string]any{
			"net_pnl":         500.0,
			"current_capital": 100500.0,
		},
		"trading": map[string]any{
			"signals_received": 10.0,
			"signals_executed": 4.0,
		},
		"performance": map[string]any{
			"sharpe_ratio": 1.8,
		},
	})

	assert.Equal(t, 500.0, updates["net_pnl"])
	assert.Equal(t, 100500.0, updates["final_capital"])
	assert.Equal(t, 10, updates["signals_received"])
	assert.Equal(t, 1.8, updates["sharpe_ratio"])
}

func TestMapStatsDerivesExecutionRate(t *testing.T) {
	updates := mapStats(map[string]any{
		"signals_received": 10.0,
		"signals_executed": 4.0,
	})
	assert.Equal(t, 0.4, updates["execution_rate"])

	explicit := mapStats(map[string]any{
		"signals_received": 10.0,
		"signals_executed": 4.0,
		"execution_rate":   0.9,
	})
	assert.Equal(t, 0.9, explicit["execution_rate"])

	zero := mapStats(map[string]any{
		"signals_received": 0.0,
		"signals_executed": 0.0,
	})
	_, ok := zero["execution_rate"]
	assert.False(t, ok)
}

func TestMapStatsFlatAliasWinsOverNested(t *testing.T) {
	updates := mapStats(map[string]any{
		"net_pnl": 1.0,
		"financials": map[string]any{
			"net_pnl": 2.0,
		},
	})
	assert.Equal(t, 1.0, updates["net_pnl"])
}

func TestMapStatsEmptyPayload(t *testing.T) {
	assert.Empty(t, mapStats(map[string]any{}))
	assert.Empty(t, mapStats(map[string]any{"unrelated": true}))
}

func TestToFloatCoercions(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want float64
		ok   bool
	}{
		{500.0, 500, true},
		{int(7), 7, true},
		{int64(7), 7, true},
		{"3.14", 3.14, true},
		{"abc", 0, false},
		{nil, 0, false},
		{true, 0, false},
	} {
		got, ok := toFloat(tc.in)
		assert.Equal(t, tc.ok, ok)
		if ok {
			assert.Equal(t, tc.want, got)
		}
	}
}
