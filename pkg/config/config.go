// Package config handles SkuldDB configuration via environment
// variables, with an optional YAML file overlay.
//
// All settings are prefixed with SKULDDB_ and loaded with
// LoadFromEnv(). When a config file is given it is applied on top of
// the environment, so the file wins for any key it sets.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if path != "" {
//		if err := cfg.ApplyFile(path); err != nil {
//			log.Fatalf("Invalid config file: %v", err)
//		}
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//
//   - SKULDDB_DATA_DIR="./data"
//   - SKULDDB_IN_MEMORY=false
//   - SKULDDB_RETENTION_WINDOW=720h
//   - SKULDDB_EVICTION_INTERVAL=1h
//   - SKULDDB_CAUSAL_MAX_LAG=1h
//   - SKULDDB_CHAIN_MAX_DEPTH=5
//   - SKULDDB_HTTP_PORT=7474
//   - SKULDDB_LOG_LEVEL=info
//
// For the complete list, see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all SkuldDB configuration.
type Config struct {
	// Database settings
	Database DatabaseConfig `yaml:"database"`

	// Graph retention settings
	Graph GraphConfig `yaml:"graph"`

	// Analytics settings
	Causal  CausalConfig  `yaml:"causal"`
	Chain   ChainConfig   `yaml:"chain"`
	Pattern PatternConfig `yaml:"pattern"`
	Predict PredictConfig `yaml:"predict"`

	// HTTP server settings
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	// DataDir is the directory for the Badger store.
	DataDir string `yaml:"data_dir"`
	// InMemory skips disk persistence entirely.
	InMemory bool `yaml:"in_memory"`
	// SyncWrites fsyncs every write batch. Slower, safer.
	SyncWrites bool `yaml:"sync_writes"`
}

// GraphConfig holds retention settings for the entity store.
type GraphConfig struct {
	// RetentionWindow is how long entities are kept before eviction.
	RetentionWindow time.Duration `yaml:"retention_window"`
	// EvictionEnabled turns the background eviction ticker on.
	EvictionEnabled bool `yaml:"eviction_enabled"`
	// EvictionInterval is how often the ticker fires.
	EvictionInterval time.Duration `yaml:"eviction_interval"`
}

// CausalConfig holds causal discovery settings.
type CausalConfig struct {
	// MaxLag is the largest plausible cause-to-effect delay.
	MaxLag time.Duration `yaml:"max_lag"`
	// ScoreThreshold gates hypothesis generation.
	ScoreThreshold float64 `yaml:"score_threshold"`
	// MaxPValue and MinCorrelation gate hypothesis validation.
	MaxPValue      float64 `yaml:"max_p_value"`
	MinCorrelation float64 `yaml:"min_correlation"`
}

// ChainConfig holds chain building settings.
type ChainConfig struct {
	// MaxDepth caps hops per chain.
	MaxDepth int `yaml:"max_depth"`
	// MinStrength is the weakest causal relation a chain may traverse.
	MinStrength float64 `yaml:"min_strength"`
	// MaxChains caps the retained chain set.
	MaxChains int `yaml:"max_chains"`
}

// PatternConfig holds pattern mining settings.
type PatternConfig struct {
	// MinGroupSize is the fewest entities of a kind worth testing.
	MinGroupSize int `yaml:"min_group_size"`
	// MaxVariation is the coefficient-of-variation ceiling.
	MaxVariation float64 `yaml:"max_variation"`
}

// PredictConfig holds prediction settings.
type PredictConfig struct {
	// ActivityWindow is how far back an observation counts as recent.
	ActivityWindow time.Duration `yaml:"activity_window"`
	// MinActivity gates which chains are called active.
	MinActivity float64 `yaml:"min_activity"`
	// MaxPredictions caps the result size.
	MaxPredictions int `yaml:"max_predictions"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Enabled controls whether the HTTP API is served at all.
	Enabled bool `yaml:"enabled"`
	// Address and Port for the listener.
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// ReadTimeout and WriteTimeout bound slow clients.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// LoadFromEnv creates a Config from environment variables, falling
// back to production defaults for anything unset.
func LoadFromEnv() *Config {
	config := &Config{}

	config.Database.DataDir = getEnv("SKULDDB_DATA_DIR", "./data")
	config.Database.InMemory = getEnvBool("SKULDDB_IN_MEMORY", false)
	config.Database.SyncWrites = getEnvBool("SKULDDB_SYNC_WRITES", false)

	config.Graph.RetentionWindow = getEnvDuration("SKULDDB_RETENTION_WINDOW", 30*24*time.Hour)
	config.Graph.EvictionEnabled = getEnvBool("SKULDDB_EVICTION_ENABLED", true)
	config.Graph.EvictionInterval = getEnvDuration("SKULDDB_EVICTION_INTERVAL", time.Hour)

	config.Causal.MaxLag = getEnvDuration("SKULDDB_CAUSAL_MAX_LAG", time.Hour)
	config.Causal.ScoreThreshold = getEnvFloat("SKULDDB_CAUSAL_SCORE_THRESHOLD", 0.5)
	config.Causal.MaxPValue = getEnvFloat("SKULDDB_CAUSAL_MAX_P_VALUE", 0.1)
	config.Causal.MinCorrelation = getEnvFloat("SKULDDB_CAUSAL_MIN_CORRELATION", 0.3)

	config.Chain.MaxDepth = getEnvInt("SKULDDB_CHAIN_MAX_DEPTH", 5)
	config.Chain.MinStrength = getEnvFloat("SKULDDB_CHAIN_MIN_STRENGTH", 0.6)
	config.Chain.MaxChains = getEnvInt("SKULDDB_CHAIN_MAX_CHAINS", 100)

	config.Pattern.MinGroupSize = getEnvInt("SKULDDB_PATTERN_MIN_GROUP_SIZE", 5)
	config.Pattern.MaxVariation = getEnvFloat("SKULDDB_PATTERN_MAX_VARIATION", 0.5)

	config.Predict.ActivityWindow = getEnvDuration("SKULDDB_PREDICT_ACTIVITY_WINDOW", 2*time.Hour)
	config.Predict.MinActivity = getEnvFloat("SKULDDB_PREDICT_MIN_ACTIVITY", 0.3)
	config.Predict.MaxPredictions = getEnvInt("SKULDDB_PREDICT_MAX_PREDICTIONS", 20)

	config.Server.Enabled = getEnvBool("SKULDDB_HTTP_ENABLED", true)
	config.Server.Address = getEnv("SKULDDB_HTTP_ADDRESS", "0.0.0.0")
	config.Server.Port = getEnvInt("SKULDDB_HTTP_PORT", 7474)
	config.Server.MetricsEnabled = getEnvBool("SKULDDB_METRICS_ENABLED", true)
	config.Server.ReadTimeout = getEnvDuration("SKULDDB_HTTP_READ_TIMEOUT", 30*time.Second)
	config.Server.WriteTimeout = getEnvDuration("SKULDDB_HTTP_WRITE_TIMEOUT", 30*time.Second)

	config.Logging.Level = getEnv("SKULDDB_LOG_LEVEL", "info")
	config.Logging.Format = getEnv("SKULDDB_LOG_FORMAT", "json")

	return config
}

// ApplyFile overlays a YAML config file onto the receiver. Keys absent
// from the file keep their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks structural sanity. It does not verify that the data
// directory exists; storage creates it on open.
func (c *Config) Validate() error {
	if !c.Database.InMemory && c.Database.DataDir == "" {
		return fmt.Errorf("data_dir required unless in_memory is set")
	}
	if c.Graph.RetentionWindow <= 0 {
		return fmt.Errorf("retention_window must be positive, got %s", c.Graph.RetentionWindow)
	}
	if c.Graph.EvictionEnabled && c.Graph.EvictionInterval <= 0 {
		return fmt.Errorf("eviction_interval must be positive, got %s", c.Graph.EvictionInterval)
	}
	if c.Causal.MaxLag <= 0 {
		return fmt.Errorf("causal max_lag must be positive, got %s", c.Causal.MaxLag)
	}
	for name, v := range map[string]float64{
		"causal score_threshold": c.Causal.ScoreThreshold,
		"causal max_p_value":     c.Causal.MaxPValue,
		"causal min_correlation": c.Causal.MinCorrelation,
		"chain min_strength":     c.Chain.MinStrength,
		"pattern max_variation":  c.Pattern.MaxVariation,
		"predict min_activity":   c.Predict.MinActivity,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.Chain.MaxDepth < 1 {
		return fmt.Errorf("chain max_depth must be at least 1, got %d", c.Chain.MaxDepth)
	}
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid http port %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.EqualFold(val, "true") || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
