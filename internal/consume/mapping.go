package consume

import (
	"strconv"
	"strings"
)

// statField binds one results-store column to the payload keys different
// producers use for it, including dotted nested paths.
type statField struct {
	column  string
	integer bool
	aliases []string
}

var statFields = []statField{
	{column: "final_capital", aliases: []string{"final_capital", "current_capital", "financials.final_capital", "financials.current_capital"}},
	{column: "total_pnl", aliases: []string{"total_pnl", "financials.total_pnl"}},
	{column: "total_fees", aliases: []string{"total_fees", "financials.total_fees"}},
	{column: "net_pnl", aliases: []string{"net_pnl", "financials.net_pnl"}},
	{column: "return_pct", aliases: []string{"return_pct", "return_percentage", "financials.return_pct"}},
	{column: "max_drawdown", aliases: []string{"max_drawdown", "financials.max_drawdown", "performance.max_drawdown"}},
	{column: "total_trades", integer: true, aliases: []string{"total_trades", "trading.total_trades"}},
	{column: "winning_trades", integer: true, aliases: []string{"winning_trades", "trading.winning_trades"}},
	{column: "losing_trades", integer: true, aliases: []string{"losing_trades", "trading.losing_trades"}},
	{column: "win_rate", aliases: []string{"win_rate", "trading.win_rate"}},
	{column: "signals_received", integer: true, aliases: []string{"signals_received", "trading.signals_received"}},
	{column: "signals_executed", integer: true, aliases: []string{"signals_executed", "trading.signals_executed"}},
	{column: "execution_rate", aliases: []string{"execution_rate", "trading.execution_rate"}},
	{column: "total_volume", aliases: []string{"total_volume", "trading.total_volume"}},
	{column: "sharpe_ratio", aliases: []string{"sharpe_ratio", "performance.sharpe_ratio"}},
	{column: "avg_win", aliases: []string{"avg_win", "performance.avg_win"}},
	{column: "avg_loss", aliases: []string{"avg_loss", "performance.avg_loss"}},
}

// mapStats flattens one telemetry payload onto results-store columns. The
// first alias that resolves to a numeric value wins. execution_rate is
// derived from the signal counters when the producer did not send it.
func mapStats(data map[string]any) map[string]any {
	updates := make(map[string]any)
	for _, field := range statFields {
		for _, alias := range field.aliases {
			raw, ok := lookup(data, alias)
			if !ok {
				continue
			}
			value, ok := toFloat(raw)
			if !ok {
				continue
			}
			if field.integer {
				updates[field.column] = int(value)
			} else {
				updates[field.column] = value
			}
			break
		}
	}

	if _, ok := updates["execution_rate"]; !ok {
		received, okR := updates["signals_received"].(int)
		executed, okE := updates["signals_executed"].(int)
		if okR && okE && received > 0 {
			updates["execution_rate"] = float64(executed) / float64(received)
		}
	}
	return updates
}

// lookup resolves a possibly dotted path against nested maps.
func lookup(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	current := any(data)
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
