// Package ops resolves runtime configuration from the environment into
// typed sections, one per subsystem.
package ops

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the resolved configuration ready for use.
type Config struct {
	HTTP      HTTPConfig
	Postgres  PostgresConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Manifest  ManifestConfig
	Gateway   GatewayConfig
	Collector CollectorConfig
	Reaper    ReaperConfig
	Pipeline  PipelineConfig
	Profiling ProfilingConfig
}

// HTTPConfig describes the API listener.
type HTTPConfig struct {
	Addr string
}

// PostgresConfig describes the relational results store connection.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// MongoConfig describes the document config store connection.
type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig describes the telemetry log connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

// ManifestConfig describes where manifests are rendered.
type ManifestConfig struct {
	Dir             string
	ExternalNetwork string
}

// GatewayConfig tunes the persistence gateway.
type GatewayConfig struct {
	MaxRetries       int
	RetryDelay       time.Duration
	BreakerThreshold int
	BreakerReset     time.Duration
	BackupDir        string
}

// CollectorConfig tunes result collection from workload pipelines.
type CollectorConfig struct {
	Retries int
	Delay   time.Duration
}

// ReaperConfig tunes resource limits.
type ReaperConfig struct {
	MaxConcurrentRuns int
}

// PipelineConfig carries the store addresses as seen from inside a
// workload pipeline on the shared network, not from this process.
type PipelineConfig struct {
	PostgresHost string
	PostgresPort int
	MongoURI     string
	RedisHost    string
	RedisPort    int
}

// ProfilingConfig enables continuous profiling when an address is set.
type ProfilingConfig struct {
	ServerAddress string
}

// Load resolves every section from the environment, falling back to
// documented defaults.
func Load() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr: fmt.Sprintf("%s:%d", envStr("API_HOST", ""), envInt("API_PORT", 8000)),
		},
		Postgres: PostgresConfig{
			Host:     envStr("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			User:     envStr("POSTGRES_USER", "trading"),
			Password: envStr("POSTGRES_PASSWORD", "trading"),
			Database: envStr("POSTGRES_DB", "trading_results"),
		},
		Mongo: MongoConfig{
			URI:      envStr("MONGO_URI", "mongodb://localhost:27017"),
			Database: envStr("MONGO_DB", "trading_config"),
		},
		Redis: RedisConfig{
			Addr:     fmt.Sprintf("%s:%d", envStr("REDIS_HOST", "localhost"), envInt("REDIS_PORT", 6379)),
			Password: envStr("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
			Stream:   envStr("REDIS_STREAM", "trading-events"),
		},
		Manifest: ManifestConfig{
			Dir:             envStr("MANIFEST_DIR", "./manifests"),
			ExternalNetwork: envStr("EXTERNAL_NETWORK", "trading-db-network"),
		},
		Gateway: GatewayConfig{
			MaxRetries:       envInt("DB_MAX_RETRIES", 3),
			RetryDelay:       envSeconds("DB_RETRY_DELAY", time.Second),
			BreakerThreshold: envInt("DB_CIRCUIT_BREAKER_THRESHOLD", 5),
			BreakerReset:     envSeconds("DB_CIRCUIT_BREAKER_RESET", time.Minute),
			BackupDir:        envStr("DB_BACKUP_DIR", "./db_backups"),
		},
		Collector: CollectorConfig{
			Retries: envInt("RESULT_FETCH_RETRIES", 5),
			Delay:   envSeconds("RESULT_FETCH_DELAY", 2*time.Second),
		},
		Reaper: ReaperConfig{
			MaxConcurrentRuns: envInt("MAX_CONCURRENT_RUNS", 10),
		},
		Pipeline: PipelineConfig{
			PostgresHost: envStr("PIPELINE_POSTGRES_HOST", "postgres"),
			PostgresPort: envInt("PIPELINE_POSTGRES_PORT", 5432),
			MongoURI:     envStr("PIPELINE_MONGO_URI", "mongodb://mongodb:27017"),
			RedisHost:    envStr("PIPELINE_REDIS_HOST", "redis"),
			RedisPort:    envInt("PIPELINE_REDIS_PORT", 6379),
		},
		Profiling: ProfilingConfig{
			ServerAddress: envStr("PYROSCOPE_SERVER_ADDRESS", ""),
		},
	}
}

// StoreEnv renders the environment entries injected into every manifest so
// the pipeline's executor reaches the stores over the shared network.
func (c Config) StoreEnv() []string {
	return []string{
		fmt.Sprintf("MONGO_URI=%s", c.Pipeline.MongoURI),
		fmt.Sprintf("POSTGRES_HOST=%s", c.Pipeline.PostgresHost),
		fmt.Sprintf("POSTGRES_PORT=%d", c.Pipeline.PostgresPort),
		fmt.Sprintf("REDIS_HOST=%s", c.Pipeline.RedisHost),
		fmt.Sprintf("REDIS_PORT=%d", c.Pipeline.RedisPort),
		fmt.Sprintf("REDIS_STREAM=%s", c.Redis.Stream),
	}
}

func envStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// envSeconds parses a float number of seconds.
func envSeconds(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}
