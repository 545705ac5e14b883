package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults when nothing is set", func(t *testing.T) {
		cfg := LoadFromEnv()

		assert.Equal(t, "./data", cfg.Database.DataDir)
		assert.Equal(t, 30*24*time.Hour, cfg.Graph.RetentionWindow)
		assert.Equal(t, time.Hour, cfg.Causal.MaxLag)
		assert.Equal(t, 0.5, cfg.Causal.ScoreThreshold)
		assert.Equal(t, 5, cfg.Chain.MaxDepth)
		assert.Equal(t, 100, cfg.Chain.MaxChains)
		assert.Equal(t, 20, cfg.Predict.MaxPredictions)
		assert.Equal(t, 7474, cfg.Server.Port)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("SKULDDB_DATA_DIR", "/tmp/skuld")
		t.Setenv("SKULDDB_RETENTION_WINDOW", "48h")
		t.Setenv("SKULDDB_CHAIN_MAX_DEPTH", "3")
		t.Setenv("SKULDDB_IN_MEMORY", "true")
		t.Setenv("SKULDDB_LOG_LEVEL", "debug")

		cfg := LoadFromEnv()
		assert.Equal(t, "/tmp/skuld", cfg.Database.DataDir)
		assert.Equal(t, 48*time.Hour, cfg.Graph.RetentionWindow)
		assert.Equal(t, 3, cfg.Chain.MaxDepth)
		assert.True(t, cfg.Database.InMemory)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("malformed values fall back to defaults", func(t *testing.T) {
		t.Setenv("SKULDDB_CHAIN_MAX_DEPTH", "many")
		t.Setenv("SKULDDB_RETENTION_WINDOW", "fortnight")

		cfg := LoadFromEnv()
		assert.Equal(t, 5, cfg.Chain.MaxDepth)
		assert.Equal(t, 30*24*time.Hour, cfg.Graph.RetentionWindow)
	})
}

func TestApplyFile(t *testing.T) {
	t.Run("file overlays environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "skulddb.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"graph:\n  retention_window: 24h\nserver:\n  port: 9000\n"), 0o600))

		cfg := LoadFromEnv()
		require.NoError(t, cfg.ApplyFile(path))

		assert.Equal(t, 24*time.Hour, cfg.Graph.RetentionWindow)
		assert.Equal(t, 9000, cfg.Server.Port)
		// Untouched keys keep their defaults.
		assert.Equal(t, 5, cfg.Chain.MaxDepth)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		cfg := LoadFromEnv()
		assert.Error(t, cfg.ApplyFile(filepath.Join(t.TempDir(), "nope.yaml")))
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("graph: ["), 0o600))

		cfg := LoadFromEnv()
		assert.Error(t, cfg.ApplyFile(path))
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return LoadFromEnv() }

	t.Run("rejects missing data dir", func(t *testing.T) {
		cfg := valid()
		cfg.Database.DataDir = ""
		assert.Error(t, cfg.Validate())

		cfg.Database.InMemory = true
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects non positive retention", func(t *testing.T) {
		cfg := valid()
		cfg.Graph.RetentionWindow = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects out of range thresholds", func(t *testing.T) {
		cfg := valid()
		cfg.Causal.ScoreThreshold = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non positive chain depth", func(t *testing.T) {
		cfg := valid()
		cfg.Chain.MaxDepth = 0
		assert.Error(t, cfg.Validate())

		cfg.Chain.MaxDepth = 1
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects unknown log level", func(t *testing.T) {
		cfg := valid()
		cfg.Logging.Level = "loud"
		assert.Error(t, cfg.Validate())
	})
}
