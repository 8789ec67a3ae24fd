// Package consume reads the shared telemetry log through a consumer group
// and persists each entry before acknowledging it. Delivery is at least
// once; every handler it dispatches to must therefore be idempotent.
package consume

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/model/enum"
)

// Sink receives the decoded payload of each telemetry entry.
type Sink interface {
	UpdateLiveStats(ctx context.Context, runID string, data map[string]any) error
	ApplyFinalResults(ctx context.Context, runID string, data map[string]any) error
	StoreTrade(ctx context.Context, runID string, data map[string]any) error
}

// Config tunes the consumer loop.
type Config struct {
	// Stream is the telemetry log key. Defaults to "trading-events".
	Stream string
	// Group is the consumer group name. Defaults to "trading-api-group".
	Group string
	// Consumer is this member's name. Defaults to "trading-api-consumer".
	Consumer string
	// BatchSize bounds entries per read. Defaults to 10.
	BatchSize int64
	// BlockTimeout bounds each blocking read so shutdown is observed
	// promptly. Defaults to 5s.
	BlockTimeout time.Duration
	// ReconnectDelay is the sleep before re-establishing a lost
	// connection. Defaults to 5s.
	ReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = "trading-events"
	}
	if c.Group == "" {
		c.Group = "trading-api-group"
	}
	if c.Consumer == "" {
		c.Consumer = "trading-api-consumer"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	return c
}

// Consumer is one consumer-group member reading the telemetry log.
type Consumer struct {
	cfg     Config
	client  redis.UniversalClient
	sink    Sink
	running atomic.Bool
	stats   counters
}

// New creates a consumer.
func New(cfg Config, client redis.UniversalClient, sink Sink) *Consumer {
	return &Consumer{cfg: cfg.withDefaults(), client: client, sink: sink}
}

// Run reads until Stop is called or ctx is cancelled. Lost connections are
// retried after ReconnectDelay; group creation is idempotent.
func (c *Consumer) Run(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)

	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	logs.Infof("consuming %s as %s/%s", c.cfg.Stream, c.cfg.Group, c.cfg.Consumer)

	for c.running.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.BlockTimeout,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logs.Warnf("read telemetry log: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.ReconnectDelay):
			}
			if err := c.ensureGroup(ctx); err != nil {
				logs.Warnf("re-establish consumer group: %v", err)
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if c.process(ctx, message) {
					if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, message.ID).Err(); err != nil {
						logs.Warnf("ack %s: %v", message.ID, err)
					}
				}
			}
		}
	}
	return nil
}

// Stop makes Run return after its current blocking read.
func (c *Consumer) Stop() { c.running.Store(false) }

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() Stats { return c.stats.snapshot(c.running.Load()) }

// process handles one entry and reports whether it should be acknowledged.
// Structurally unparseable entries are acknowledged so they cannot wedge the
// group; handler failures are not, so the entry is redelivered.
func (c *Consumer) process(ctx context.Context, message redis.XMessage) bool {
	msgType, runID, data, err := decode(message)
	if err != nil {
		c.stats.parseErrors.Add(1)
		logs.Errorf("unparseable entry %s: %v", message.ID, err)
		return true
	}

	var handlerErr error
	switch msgType {
	case enum.MessageLiveStats:
		handlerErr = c.sink.UpdateLiveStats(ctx, runID, data)
	case enum.MessageFinalResults:
		handlerErr = c.sink.ApplyFinalResults(ctx, runID, data)
	case enum.MessageTradeEvent:
		handlerErr = c.sink.StoreTrade(ctx, runID, data)
	default:
		c.stats.unknown.Add(1)
		logs.Warnf("unknown message type %q in entry %s", msgType, message.ID)
		return true
	}

	if handlerErr != nil {
		c.stats.recordFailure(handlerErr)
		logs.Errorf("handle %s entry %s for %s: %v", msgType, message.ID, runID, handlerErr)
		return false
	}
	c.stats.processed.Add(1)
	return true
}

func decode(message redis.XMessage) (enum.MessageType, string, map[string]any, error) {
	msgType, _ := message.Values["type"].(string)
	runID, _ := message.Values["run_id"].(string)
	if msgType == "" || runID == "" {
		return "", "", nil, errors.New("entry missing type or run_id")
	}

	data := map[string]any{}
	if raw, ok := message.Values["data"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return "", "", nil, errors.Wrap(err, "decode data payload")
		}
	}
	return enum.MessageType(msgType), runID, data, nil
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrap(err, "create consumer group")
	}
	return nil
}
