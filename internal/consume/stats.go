package consume

import (
	"sync"
	"sync/atomic"
)

// counters tracks consumer throughput. Counter reads are lock-free; the last
// error string is guarded separately.
type counters struct {
	processed   atomic.Int64
	failed      atomic.Int64
	unknown     atomic.Int64
	parseErrors atomic.Int64

	mu        sync.Mutex
	lastError string
}

func (c *counters) recordFailure(err error) {
	c.failed.Add(1)
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
}

// Stats is a point-in-time snapshot of consumer counters.
type Stats struct {
	Running     bool   `json:"running"`
	Processed   int64  `json:"messages_processed"`
	Failed      int64  `json:"messages_failed"`
	Unknown     int64  `json:"unknown_types"`
	ParseErrors int64  `json:"parse_errors"`
	LastError   string `json:"last_error,omitempty"`
}

func (c *counters) snapshot(running bool) Stats {
	c.mu.Lock()
	lastError := c.lastError
	c.mu.Unlock()

	return Stats{
		Running:     running,
		Processed:   c.processed.Load(),
		Failed:      c.failed.Load(),
		Unknown:     c.unknown.Load(),
		ParseErrors: c.parseErrors.Load(),
		LastError:   lastError,
	}
}
