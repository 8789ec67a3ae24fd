// Package gateway guards the results store: bounded retries with exponential
// backoff, a circuit breaker that fails fast during outages, and a file
// backup that captures every write the store refused so it can be replayed
// once the store recovers.
package gateway

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"
)

var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	// Threshold is the consecutive-failure count that opens the breaker.
	// Defaults to 5.
	Threshold int
	// ResetTimeout is how long the breaker stays open before a probe write
	// is allowed through. Defaults to 60s.
	ResetTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = time.Minute
	}
	return c
}

// Breaker counts consecutive failures and refuses work while open. After
// ResetTimeout one attempt is let through; its outcome closes or re-opens
// the breaker.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults()}
}

// Allow reports whether a write may proceed right now.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures >= b.cfg.Threshold && time.Since(b.lastFailure) < b.cfg.ResetTimeout {
		return ErrBreakerOpen
	}
	return nil
}

// Success records a successful write and closes the breaker. It reports
// whether this success recovered an open breaker.
func (b *Breaker) Success() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	recovered := b.failures >= b.cfg.Threshold
	b.failures = 0
	return recovered
}

// Failure records a failed write.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
}

// State returns closed, open or half_open for observability surfaces.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.cfg.Threshold {
		return "closed"
	}
	if time.Since(b.lastFailure) < b.cfg.ResetTimeout {
		return "open"
	}
	return "half_open"
}
