package dedupgo

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads from YAML in Go duration syntax
// ("30s", "2m"), which yaml.v3 does not handle natively.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the operator-facing configuration surface of the engine.
type Config struct {
	// SimilarityThreshold is the global cosine-similarity threshold in
	// [0, 1]. With adaptive thresholds disabled it is the acceptance
	// threshold; with them enabled it is the ceiling a per-cluster
	// threshold is clamped to.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// AdaptiveThreshold enables the per-cluster statistical threshold.
	AdaptiveThreshold bool `yaml:"adaptive_threshold"`

	// AdaptiveK is the standard-deviation multiplier for the adaptive rule.
	AdaptiveK float64 `yaml:"adaptive_k"`

	// ThresholdFloor is the lower clamp for adaptive thresholds, so a
	// high-variance cluster can never accept arbitrarily dissimilar items.
	ThresholdFloor float64 `yaml:"threshold_floor"`

	// MaxNeighbors is the k used for the nearest-neighbor search.
	MaxNeighbors int `yaml:"max_neighbors"`

	// MinClusterSize filters reporting output only; it never affects
	// assignment decisions.
	MinClusterSize int `yaml:"min_cluster_size"`

	// EmbeddingDimension is the fixed vector dimensionality. Changing it
	// against an existing state directory is a fatal mismatch.
	EmbeddingDimension int `yaml:"embedding_dimension"`

	// StateDirectory holds the persisted snapshots and the run lock.
	StateDirectory string `yaml:"state_directory"`

	// EmbedConcurrency bounds parallel embedder calls during a run.
	EmbedConcurrency int `yaml:"embed_concurrency"`

	// EmbedTimeout applies per embedder call. Zero disables it.
	EmbedTimeout Duration `yaml:"embed_timeout"`

	// EmbedRateLimit caps embedder calls per second. Zero disables it.
	EmbedRateLimit float64 `yaml:"embed_rate_limit"`
}

// DefaultConfig returns the default engine configuration. StateDirectory and
// EmbeddingDimension have no sensible defaults and must be set by the caller.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.85,
		AdaptiveThreshold:   false,
		AdaptiveK:           2.0,
		ThresholdFloor:      0.0,
		MaxNeighbors:        10,
		MinClusterSize:      1,
		EmbedConcurrency:    4,
		EmbedTimeout:        Duration(30 * time.Second),
	}
}

// LoadConfig reads a YAML config file, applying defaults for absent fields.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks all configuration values for range errors.
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold %v not in [0, 1]", ErrInvalidConfig, c.SimilarityThreshold)
	}
	if c.AdaptiveK < 0 {
		return fmt.Errorf("%w: adaptive_k %v must be >= 0", ErrInvalidConfig, c.AdaptiveK)
	}
	if c.ThresholdFloor < 0 || c.ThresholdFloor > 1 {
		return fmt.Errorf("%w: threshold_floor %v not in [0, 1]", ErrInvalidConfig, c.ThresholdFloor)
	}
	if c.ThresholdFloor > c.SimilarityThreshold {
		return fmt.Errorf("%w: threshold_floor %v above similarity_threshold %v", ErrInvalidConfig, c.ThresholdFloor, c.SimilarityThreshold)
	}
	if c.MaxNeighbors < 1 {
		return fmt.Errorf("%w: max_neighbors %d must be >= 1", ErrInvalidConfig, c.MaxNeighbors)
	}
	if c.MinClusterSize < 1 {
		return fmt.Errorf("%w: min_cluster_size %d must be >= 1", ErrInvalidConfig, c.MinClusterSize)
	}
	if c.EmbeddingDimension < 1 {
		return fmt.Errorf("%w: embedding_dimension %d must be >= 1", ErrInvalidConfig, c.EmbeddingDimension)
	}
	if c.StateDirectory == "" {
		return fmt.Errorf("%w: state_directory must be set", ErrInvalidConfig)
	}
	if c.EmbedConcurrency < 1 {
		return fmt.Errorf("%w: embed_concurrency %d must be >= 1", ErrInvalidConfig, c.EmbedConcurrency)
	}
	if c.EmbedTimeout < 0 {
		return fmt.Errorf("%w: embed_timeout must not be negative", ErrInvalidConfig)
	}
	if c.EmbedRateLimit < 0 {
		return fmt.Errorf("%w: embed_rate_limit must not be negative", ErrInvalidConfig)
	}
	return nil
}
