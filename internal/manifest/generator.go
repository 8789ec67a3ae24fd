// Package manifest renders per-run compose manifests. One file per run,
// named deterministically from the run id, so cleanup and restart discovery
// work without an index.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"tradesim/internal/alloc"
	"tradesim/internal/model"
)

const (
	MarketStreamerPrefix = "market-streamer-"
	AlgoPrefix           = "order-book-algo-"
	SimulatorPrefix      = "trade-simulator-"

	filePrefix = "docker-compose-"
	fileSuffix = ".yml"
)

// ServicePrefixes lists the container name prefixes of every pipeline service.
var ServicePrefixes = []string{MarketStreamerPrefix, AlgoPrefix, SimulatorPrefix}

// Config controls manifest rendering.
type Config struct {
	// Dir receives the rendered manifest files.
	Dir string
	// ExternalNetwork is the pre-existing shared network that gives the
	// trade executor a route to the stores and the message log.
	ExternalNetwork string
	// StoreEnv is the shared store/log environment block injected into the
	// algorithm and simulator services.
	StoreEnv []string
}

func (c Config) withDefaults() Config {
	if c.Dir == "" {
		c.Dir = "manifests"
	}
	if c.ExternalNetwork == "" {
		c.ExternalNetwork = "trading-db-network"
	}
	return c
}

// Generator renders, locates and removes per-run manifests.
type Generator struct {
	cfg Config
}

// NewGenerator creates a generator and ensures the manifest directory exists.
func NewGenerator(cfg Config) (*Generator, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create manifest dir")
	}
	return &Generator{cfg: cfg}, nil
}

// Path returns the manifest path for a run id. Pure function of the id.
func (g *Generator) Path(runID string) string {
	return filepath.Join(g.cfg.Dir, filePrefix+runID+fileSuffix)
}

// Generate renders and writes the manifest for one run, returning its path.
func (g *Generator) Generate(runID string, algo model.AlgoConfig, sim model.SimulatorConfig, durationSeconds int) (string, error) {
	assignment := alloc.Assign(runID)
	doc := g.render(runID, assignment, algo, sim, durationSeconds)

	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, "marshal manifest")
	}

	path := g.Path(runID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write manifest")
	}
	return path, nil
}

// Remove deletes the manifest for a run id. Missing files are not an error.
func (g *Generator) Remove(runID string) error {
	err := os.Remove(g.Path(runID))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove manifest")
	}
	return nil
}

// List returns the run ids of every manifest currently on disk.
func (g *Generator) List() ([]string, error) {
	entries, err := os.ReadDir(g.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read manifest dir")
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
	}
	return ids, nil
}

type composeDoc struct {
	Services map[string]composeService `yaml:"services"`
	Networks map[string]composeNetwork `yaml:"networks"`
}

type composeService struct {
	Image         string   `yaml:"image"`
	ContainerName string   `yaml:"container_name"`
	PullPolicy    string   `yaml:"pull_policy"`
	DependsOn     []string `yaml:"depends_on,omitempty"`
	Networks      []string `yaml:"networks"`
	Ports         []string `yaml:"ports,omitempty"`
	Environment   []string `yaml:"environment,omitempty"`
	Expose        []string `yaml:"expose,omitempty"`
}

type composeNetwork struct {
	Driver   string `yaml:"driver,omitempty"`
	External bool   `yaml:"external,omitempty"`
	Name     string `yaml:"name,omitempty"`
}

func (g *Generator) render(runID string, a alloc.Assignment, algo model.AlgoConfig, sim model.SimulatorConfig, durationSeconds int) composeDoc {
	streamer := MarketStreamerPrefix + runID
	algoSvc := AlgoPrefix + runID
	simulator := SimulatorPrefix + runID

	algoEnv := []string{
		fmt.Sprintf("STREAMING_SOURCE_IP=%s", streamer),
		"STREAMING_SOURCE_PORT=8888",
	}
	algoEnv = append(algoEnv, g.cfg.StoreEnv...)
	algoEnv = append(algoEnv, fmt.Sprintf("SIMULATION_RUN_ID=%s", runID))
	algoEnv = append(algoEnv, algo.Env()...)

	simEnv := []string{
		fmt.Sprintf("ALGORITHM_SOURCE_IP=%s", algoSvc),
		"ALGORITHM_SOURCE_PORT=9999",
		"LISTEN_PORT=9999",
	}
	simEnv = append(simEnv, g.cfg.StoreEnv...)
	simEnv = append(simEnv, fmt.Sprintf("SIMULATION_RUN_ID=%s", runID))
	simEnv = append(simEnv, sim.Env()...)
	if durationSeconds > 0 && sim.MaxRuntimeSecs == nil {
		simEnv = append(simEnv, fmt.Sprintf("MAX_RUNTIME_SECS=%d", durationSeconds))
	}

	return composeDoc{
		Services: map[string]composeService{
			streamer: {
				Image:         "market-streamer:latest",
				ContainerName: streamer,
				PullPolicy:    "never",
				Networks:      []string{a.Network},
				Ports:         []string{fmt.Sprintf("%d:8001", a.MarketStreamerPort)},
				Environment: []string{
					"BIND_ADDR=0.0.0.0:8888",
					fmt.Sprintf("SIMULATION_RUN_ID=%s", runID),
				},
				Expose: []string{"8888"},
			},
			algoSvc: {
				Image:         "order-book-algo:latest",
				ContainerName: algoSvc,
				PullPolicy:    "never",
				DependsOn:     []string{streamer},
				Networks:      []string{a.Network, "external"},
				Ports: []string{
					fmt.Sprintf("%d:8002", a.AlgoPort),
					fmt.Sprintf("%d:9999", a.SignalPort),
				},
				Environment: algoEnv,
				Expose:      []string{"9999"},
			},
			simulator: {
				Image:         "trade-simulator:latest",
				ContainerName: simulator,
				PullPolicy:    "never",
				DependsOn:     []string{algoSvc},
				Networks:      []string{a.Network, "external"},
				Ports: []string{
					fmt.Sprintf("%d:8003", a.SimulatorPort),
					fmt.Sprintf("%d:8080", a.ResultsAPIPort),
				},
				Environment: simEnv,
			},
		},
		Networks: map[string]composeNetwork{
			a.Network: {Driver: "bridge"},
			"external": {
				External: true,
				Name:     g.cfg.ExternalNetwork,
			},
		},
	}
}
