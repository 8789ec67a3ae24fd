package model

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"tradesim/internal/model/enum"
)

// AlgoConfig carries the signal algorithm parameters. Field names double as
// environment keys inside the rendered manifest; nil fields are omitted.
type AlgoConfig struct {
	ImbalanceThreshold *float64 `json:"IMBALANCE_THRESHOLD,omitempty" bson:"imbalance_threshold,omitempty"`
	MinVolumeThreshold *float64 `json:"MIN_VOLUME_THRESHOLD,omitempty" bson:"min_volume_threshold,omitempty"`
	LookbackPeriods    *int     `json:"LOOKBACK_PERIODS,omitempty" bson:"lookback_periods,omitempty"`
	SignalCooldownMS   *int     `json:"SIGNAL_COOLDOWN_MS,omitempty" bson:"signal_cooldown_ms,omitempty"`
}

// DefaultAlgoConfig returns the documented defaults.
func DefaultAlgoConfig() AlgoConfig {
	return AlgoConfig{
		ImbalanceThreshold: ptr(0.6),
		MinVolumeThreshold: ptr(10.0),
		LookbackPeriods:    ptr(5),
		SignalCooldownMS:   ptr(100),
	}
}

// Env renders every non-nil field as KEY=value, sorted by key.
func (c AlgoConfig) Env() []string {
	entries := map[string]string{}
	putFloat(entries, "IMBALANCE_THRESHOLD", c.ImbalanceThreshold)
	putFloat(entries, "MIN_VOLUME_THRESHOLD", c.MinVolumeThreshold)
	putInt(entries, "LOOKBACK_PERIODS", c.LookbackPeriods)
	putInt(entries, "SIGNAL_COOLDOWN_MS", c.SignalCooldownMS)
	return sortedEnv(entries)
}

// SimulatorConfig carries the trade executor parameters.
type SimulatorConfig struct {
	InitialCapital    *float64 `json:"INITIAL_CAPITAL,omitempty" bson:"initial_capital,omitempty"`
	PositionSizePct   *float64 `json:"POSITION_SIZE_PCT,omitempty" bson:"position_size_pct,omitempty"`
	MaxPositionSize   *float64 `json:"MAX_POSITION_SIZE,omitempty" bson:"max_position_size,omitempty"`
	TradingFeePct     *float64 `json:"TRADING_FEE_PCT,omitempty" bson:"trading_fee_pct,omitempty"`
	MinConfidence     *float64 `json:"MIN_CONFIDENCE,omitempty" bson:"min_confidence,omitempty"`
	EnableShorting    *bool    `json:"ENABLE_SHORTING,omitempty" bson:"enable_shorting,omitempty"`
	StatsIntervalSecs *int     `json:"STATS_INTERVAL_SECS,omitempty" bson:"stats_interval_secs,omitempty"`
	AutoRegister      *bool    `json:"AUTO_REGISTER,omitempty" bson:"auto_register,omitempty"`
	MaxRuntimeSecs    *int     `json:"MAX_RUNTIME_SECS,omitempty" bson:"max_runtime_secs,omitempty"`
}

// DefaultSimulatorConfig returns the documented defaults.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		InitialCapital:    ptr(100000.0),
		PositionSizePct:   ptr(0.05),
		MaxPositionSize:   ptr(10000.0),
		TradingFeePct:     ptr(0.001),
		MinConfidence:     ptr(0.3),
		EnableShorting:    ptr(true),
		StatsIntervalSecs: ptr(30),
		AutoRegister:      ptr(true),
	}
}

// Env renders every non-nil field as KEY=value, sorted by key.
func (c SimulatorConfig) Env() []string {
	entries := map[string]string{}
	putFloat(entries, "INITIAL_CAPITAL", c.InitialCapital)
	putFloat(entries, "POSITION_SIZE_PCT", c.PositionSizePct)
	putFloat(entries, "MAX_POSITION_SIZE", c.MaxPositionSize)
	putFloat(entries, "TRADING_FEE_PCT", c.TradingFeePct)
	putFloat(entries, "MIN_CONFIDENCE", c.MinConfidence)
	putBool(entries, "ENABLE_SHORTING", c.EnableShorting)
	putInt(entries, "STATS_INTERVAL_SECS", c.StatsIntervalSecs)
	putBool(entries, "AUTO_REGISTER", c.AutoRegister)
	putInt(entries, "MAX_RUNTIME_SECS", c.MaxRuntimeSecs)
	return sortedEnv(entries)
}

// RunConfigDocument is the per-run document in the config store.
type RunConfigDocument struct {
	RunID           string          `bson:"run_id" json:"run_id"`
	CreatedAt       time.Time       `bson:"created_at" json:"created_at"`
	Status          enum.RunStatus  `bson:"status" json:"status"`
	DurationSeconds int             `bson:"duration_seconds" json:"duration_seconds"`
	AlgoVersion     string          `bson:"algorithm_version" json:"algorithm_version"`
	AlgoConfig      AlgoConfig      `bson:"algo_config" json:"algo_config"`
	SimulatorConfig SimulatorConfig `bson:"simulator_config" json:"simulator_config"`
	Metadata        map[string]any  `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// AlgoVersionDocument is a named set of algorithm defaults.
type AlgoVersionDocument struct {
	Version       string         `bson:"version" json:"version"`
	CreatedAt     time.Time      `bson:"created_at" json:"created_at"`
	Description   string         `bson:"description" json:"description"`
	DefaultConfig AlgoConfig     `bson:"default_config" json:"default_config"`
	ConfigSchema  map[string]any `bson:"config_schema,omitempty" json:"config_schema,omitempty"`
}

func ptr[T any](v T) *T { return &v }

func putFloat(dst map[string]string, key string, v *float64) {
	if v != nil {
		dst[key] = strconv.FormatFloat(*v, 'f', -1, 64)
	}
}

func putInt(dst map[string]string, key string, v *int) {
	if v != nil {
		dst[key] = strconv.Itoa(*v)
	}
}

func putBool(dst map[string]string, key string, v *bool) {
	if v != nil {
		dst[key] = strconv.FormatBool(*v)
	}
}

func sortedEnv(entries map[string]string) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, entries[k]))
	}
	return env
}
