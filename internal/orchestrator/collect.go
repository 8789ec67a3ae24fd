package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/alloc"
)

var ErrResultsNotReady = errors.New("results not ready")

// Collector fetches a workload's own reporting surface over HTTP. /results
// returns final metrics once the simulator finalizes (404 until then);
// /stats returns live metrics.
type Collector struct {
	// Client defaults to a client with a 5s timeout.
	Client *http.Client
	// Retries bounds /results attempts. Defaults to 5.
	Retries int
	// Delay is the fixed wait between attempts. Defaults to 2s.
	Delay time.Duration
	// Endpoint maps a run id to its base URL. Defaults to localhost with
	// the run's deterministic results port.
	Endpoint func(runID string) string
}

func (c *Collector) client() *http.Client {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 5 * time.Second}
	}
	return c.Client
}

func (c *Collector) retries() int {
	if c.Retries <= 0 {
		return 5
	}
	return c.Retries
}

func (c *Collector) delay() time.Duration {
	if c.Delay <= 0 {
		return 2 * time.Second
	}
	return c.Delay
}

func (c *Collector) endpoint(runID string) string {
	if c.Endpoint != nil {
		return c.Endpoint(runID)
	}
	return fmt.Sprintf("http://localhost:%d", alloc.ResultsPort(runID))
}

// Collect fetches final results, retrying while the simulator is still
// finalizing. It fails with ErrResultsNotReady once attempts are exhausted.
func (c *Collector) Collect(ctx context.Context, runID string) (map[string]any, error) {
	url := c.endpoint(runID) + "/results"

	var lastErr error
	for attempt := 0; attempt < c.retries(); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.delay()):
			}
		}

		results, err := c.fetch(ctx, url)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if err != ErrResultsNotReady {
			logs.Warnf("collect results attempt %d for %s: %v", attempt+1, runID, err)
		}
	}
	return nil, lastErr
}

// LiveStats fetches the current live metrics in a single attempt.
func (c *Collector) LiveStats(ctx context.Context, runID string) (map[string]any, error) {
	return c.fetch(ctx, c.endpoint(runID)+"/stats")
}

func (c *Collector) fetch(ctx context.Context, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, errors.Wrap(err, "decode payload")
		}
		return payload, nil
	case http.StatusNotFound:
		return nil, ErrResultsNotReady
	default:
		return nil, errors.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
}
