// Package alloc derives per-run host ports and network names from a run id.
// Assignments are pure functions of the id so a restarted orchestrator
// recomputes the same values without an index.
package alloc

import "hash/fnv"

const (
	// OffsetSlots bounds the hash offset. Two distinct run ids can still
	// collide within this space; callers that need stronger isolation must
	// compare Offset values across active runs before starting.
	OffsetSlots = 20000

	NetworkPrefix = "trading-network-"

	baseMarketStreamerPort = 8001
	baseAlgoPort           = 8002
	baseSimulatorPort      = 8003
	baseResultsAPIPort     = 8080
	baseSignalPort         = 9999
)

// Assignment is the deterministic resource set for one run.
type Assignment struct {
	RunID              string
	Offset             int
	Network            string
	MarketStreamerPort int
	AlgoPort           int
	SimulatorPort      int
	ResultsAPIPort     int
	SignalPort         int
}

// Assign computes the assignment for a run id. Identical ids always yield
// identical assignments.
func Assign(runID string) Assignment {
	offset := offsetFor(runID)
	return Assignment{
		RunID:              runID,
		Offset:             offset,
		Network:            NetworkPrefix + runID,
		MarketStreamerPort: baseMarketStreamerPort + offset,
		AlgoPort:           baseAlgoPort + offset,
		SimulatorPort:      baseSimulatorPort + offset,
		ResultsAPIPort:     baseResultsAPIPort + offset,
		SignalPort:         baseSignalPort + offset,
	}
}

// ResultsPort returns only the results API port for a run id.
func ResultsPort(runID string) int {
	return baseResultsAPIPort + offsetFor(runID)
}

func offsetFor(runID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(runID))
	return int(h.Sum32() % OffsetSlots)
}
