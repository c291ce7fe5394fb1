package dedupgo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EmbeddingDimension = 384
	cfg.StateDirectory = t.TempDir()
	return cfg
}

func TestConfigValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, validConfig(t).Validate())
	})

	mutations := []struct {
		name string
		fn   func(c *Config)
	}{
		{"ThresholdAboveOne", func(c *Config) { c.SimilarityThreshold = 1.5 }},
		{"ThresholdNegative", func(c *Config) { c.SimilarityThreshold = -0.1 }},
		{"NegativeAdaptiveK", func(c *Config) { c.AdaptiveK = -1 }},
		{"FloorAboveThreshold", func(c *Config) { c.ThresholdFloor = 0.99; c.SimilarityThreshold = 0.9 }},
		{"ZeroNeighbors", func(c *Config) { c.MaxNeighbors = 0 }},
		{"ZeroMinClusterSize", func(c *Config) { c.MinClusterSize = 0 }},
		{"ZeroDimension", func(c *Config) { c.EmbeddingDimension = 0 }},
		{"MissingStateDirectory", func(c *Config) { c.StateDirectory = "" }},
		{"ZeroConcurrency", func(c *Config) { c.EmbedConcurrency = 0 }},
		{"NegativeTimeout", func(c *Config) { c.EmbedTimeout = Duration(-time.Second) }},
		{"NegativeRateLimit", func(c *Config) { c.EmbedRateLimit = -1 }},
	}
	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			cfg := validConfig(t)
			m.fn(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("AppliesDefaultsForAbsentFields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
embedding_dimension: 768
state_directory: /var/lib/dedup
similarity_threshold: 0.92
`), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 768, cfg.EmbeddingDimension)
		assert.Equal(t, "/var/lib/dedup", cfg.StateDirectory)
		assert.Equal(t, 0.92, cfg.SimilarityThreshold)
		assert.Equal(t, DefaultConfig().MaxNeighbors, cfg.MaxNeighbors)
		assert.Equal(t, DefaultConfig().EmbedConcurrency, cfg.EmbedConcurrency)
	})

	t.Run("FullSurface", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
similarity_threshold: 0.9
adaptive_threshold: true
adaptive_k: 1.5
threshold_floor: 0.7
max_neighbors: 25
min_cluster_size: 3
embedding_dimension: 1536
state_directory: /tmp/state
embed_concurrency: 8
embed_timeout: 10s
embed_rate_limit: 50
`), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.True(t, cfg.AdaptiveThreshold)
		assert.Equal(t, 1.5, cfg.AdaptiveK)
		assert.Equal(t, 0.7, cfg.ThresholdFloor)
		assert.Equal(t, 25, cfg.MaxNeighbors)
		assert.Equal(t, 3, cfg.MinClusterSize)
		assert.Equal(t, Duration(10*time.Second), cfg.EmbedTimeout)
		assert.Equal(t, 50.0, cfg.EmbedRateLimit)
	})

	t.Run("InvalidValuesRejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
embedding_dimension: -1
state_directory: /tmp/state
`), 0o644))

		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
