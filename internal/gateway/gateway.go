package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/model"
)

const (
	opCreateRun      = "create_run"
	opUpdateRun      = "update_run"
	opAddTrade       = "add_trade"
	opUpsertPosition = "upsert_position"
)

// Writer is the subset of results-store writes the gateway protects.
type Writer interface {
	CreateRun(ctx context.Context, run *model.SimulationRun) error
	UpdateRun(ctx context.Context, runID string, updates map[string]any) error
	AddTrade(ctx context.Context, trade *model.Trade) error
	UpsertPosition(ctx context.Context, position *model.Position) error
}

// Config tunes retry behavior.
type Config struct {
	// MaxRetries bounds attempts per write. Defaults to 3.
	MaxRetries int
	// RetryDelay is the initial backoff interval; it doubles per attempt.
	// Defaults to 1s.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// Gateway wraps every results-store write with the breaker, retries and the
// file backup. A write that exhausts its retries is captured on disk and the
// error is still returned so the caller does not acknowledge the message;
// replays are idempotent so the eventual double apply is harmless.
type Gateway struct {
	cfg     Config
	writer  Writer
	breaker *Breaker
	backups *BackupStore
}

// New creates a gateway.
func New(cfg Config, writer Writer, breaker *Breaker, backups *BackupStore) *Gateway {
	return &Gateway{
		cfg:     cfg.withDefaults(),
		writer:  writer,
		breaker: breaker,
		backups: backups,
	}
}

// CreateRun inserts the initial row for a run through the protection stack.
func (g *Gateway) CreateRun(ctx context.Context, run *model.SimulationRun) error {
	return g.execute(ctx, opCreateRun, run.RunID, run, func(ctx context.Context) error {
		return g.writer.CreateRun(ctx, run)
	})
}

// UpdateRun applies a partial run update through the protection stack.
func (g *Gateway) UpdateRun(ctx context.Context, runID string, updates map[string]any) error {
	return g.execute(ctx, opUpdateRun, runID, updates, func(ctx context.Context) error {
		return g.writer.UpdateRun(ctx, runID, updates)
	})
}

// AddTrade stores one trade through the protection stack.
func (g *Gateway) AddTrade(ctx context.Context, trade *model.Trade) error {
	return g.execute(ctx, opAddTrade, trade.RunID, trade, func(ctx context.Context) error {
		return g.writer.AddTrade(ctx, trade)
	})
}

// UpsertPosition stores one position snapshot through the protection stack.
func (g *Gateway) UpsertPosition(ctx context.Context, position *model.Position) error {
	return g.execute(ctx, opUpsertPosition, position.RunID, position, func(ctx context.Context) error {
		return g.writer.UpsertPosition(ctx, position)
	})
}

// ReplayBackups re-applies captured writes directly against the store. Call
// it at startup and after the breaker recovers.
func (g *Gateway) ReplayBackups(ctx context.Context) (int, error) {
	return g.backups.Replay(ctx, g.applyBackup)
}

// Stats reports the gateway's protection state.
type Stats struct {
	BreakerState   string `json:"circuit_breaker_state"`
	PendingBackups int    `json:"pending_backups"`
}

// Stats returns a snapshot of breaker state and backlog size.
func (g *Gateway) Stats() Stats {
	return Stats{
		BreakerState:   g.breaker.State(),
		PendingBackups: g.backups.Pending(),
	}
}

func (g *Gateway) execute(ctx context.Context, op, runID string, payload any, fn func(context.Context) error) error {
	if err := g.breaker.Allow(); err != nil {
		g.capture(op, runID, payload)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.RetryDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		return fn(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(g.cfg.MaxRetries-1)), ctx))
	if err != nil {
		g.breaker.Failure()
		g.capture(op, runID, payload)
		return errors.Wrap(err, op)
	}

	if g.breaker.Success() {
		logs.Info("store recovered, replaying backed up writes")
		if replayed, err := g.ReplayBackups(ctx); err == nil && replayed > 0 {
			logs.Infof("replayed %d backed up writes", replayed)
		}
	}
	return nil
}

func (g *Gateway) capture(op, runID string, payload any) {
	if err := g.backups.Write(op, runID, payload); err != nil {
		logs.Errorf("backup %s for %s: %v", op, runID, err)
		return
	}
	logs.Warnf("%s for %s backed up for replay", op, runID)
}

func (g *Gateway) applyBackup(ctx context.Context, op, runID string, data json.RawMessage) error {
	switch op {
	case opCreateRun:
		var run model.SimulationRun
		if err := json.Unmarshal(data, &run); err != nil {
			return errors.Wrap(err, "decode run")
		}
		return g.writer.CreateRun(ctx, &run)
	case opUpdateRun:
		var updates map[string]any
		if err := json.Unmarshal(data, &updates); err != nil {
			return errors.Wrap(err, "decode run update")
		}
		return g.writer.UpdateRun(ctx, runID, updates)
	case opAddTrade:
		var trade model.Trade
		if err := json.Unmarshal(data, &trade); err != nil {
			return errors.Wrap(err, "decode trade")
		}
		return g.writer.AddTrade(ctx, &trade)
	case opUpsertPosition:
		var position model.Position
		if err := json.Unmarshal(data, &position); err != nil {
			return errors.Wrap(err, "decode position")
		}
		return g.writer.UpsertPosition(ctx, &position)
	default:
		return errors.Errorf("unknown backup operation %q", op)
	}
}
