// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New() returns a Config populated with defaults.
//   - Load(ctx) layers a YAML file and EXPERTRANK_* environment variables on top.
//   - Errors are wrapped with ErrInvalidConfig or ErrLoadConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Supported values for enumerated settings.
var (
	similarityMetrics = []string{"coverage", "jaccard", "overlap", "dice"}
	storeDrivers      = []string{"memory", "sqlite"}
	logFormats        = []string{"text", "json"}
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory mutation queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of recompute workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize bounds the remembered mutation event ids.
	DedupeSize int `koanf:"dedupe_size"`

	// ComputeConcurrency caps parallel pair computations within one event.
	ComputeConcurrency int `koanf:"compute_concurrency"`
	// PairTimeoutMS bounds one pair computation including its storage calls.
	PairTimeoutMS int `koanf:"pair_timeout_ms"`
	// StorageRetryAttempts bounds attempts per storage call.
	StorageRetryAttempts  int `koanf:"storage_retry_attempts"`
	StorageRetryInitialMS int `koanf:"storage_retry_initial_ms"`
	StorageRetryMaxMS     int `koanf:"storage_retry_max_ms"`
	// FailedLedgerSize bounds the number of FAILED(partial) events kept for reconciliation.
	FailedLedgerSize int `koanf:"failed_ledger_size"`
	// RepairIntervalS is how often a running service reconciles after failed or
	// dropped recomputations; 0 disables it.
	RepairIntervalS int `koanf:"repair_interval_s"`

	// SimilarityMetric names the similarity strategy: coverage, jaccard, overlap, dice.
	SimilarityMetric string `koanf:"similarity_metric"`
	// RecommendedBlend mixes the subject's recommended skills into expert scores (0..1).
	RecommendedBlend float64 `koanf:"recommended_blend"`
	// SkillWeights maps canonical skill tokens to their weights.
	SkillWeights map[string]float64 `koanf:"skill_weights"`
	// DefaultSkillWeight is used for skills missing from SkillWeights.
	DefaultSkillWeight float64 `koanf:"default_skill_weight"`
	// SkillSynonyms maps a variant spelling to its canonical token.
	SkillSynonyms map[string]string `koanf:"skill_synonyms"`

	// StoreDriver selects the entity repository: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`
	// SQLiteDSN is the data source for the sqlite driver.
	SQLiteDSN string `koanf:"sqlite_dsn"`
	// BadgerPath is the derived score directory; empty keeps scores in memory.
	BadgerPath string `koanf:"badger_path"`
	// BadgerGCIntervalS triggers value log GC; 0 disables it.
	BadgerGCIntervalS int `koanf:"badger_gc_interval_s"`

	// MaxLeaderboardLimit caps ?limit on leaderboard reads.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		QueueSize:             10_000,
		WorkerCount:           runtime.NumCPU() * 2,
		DedupeSize:            100_000,
		ComputeConcurrency:    16,
		PairTimeoutMS:         2_000,
		StorageRetryAttempts:  4,
		StorageRetryInitialMS: 50,
		StorageRetryMaxMS:     1_000,
		FailedLedgerSize:      1_000,
		RepairIntervalS:       30,
		SimilarityMetric:      "coverage",
		RecommendedBlend:      0,
		SkillWeights:          map[string]float64{},
		DefaultSkillWeight:    1.0,
		SkillSynonyms:         map[string]string{},
		StoreDriver:           "memory",
		SQLiteDSN:             "file:expertrank.db?_pragma=busy_timeout(5000)",
		BadgerPath:            "",
		BadgerGCIntervalS:     300,
		MaxLeaderboardLimit:   100,
	}
}

// PairTimeout returns PairTimeoutMS as a duration.
func (c *Config) PairTimeout() time.Duration {
	return time.Duration(c.PairTimeoutMS) * time.Millisecond
}

// StorageRetryInitial returns StorageRetryInitialMS as a duration.
func (c *Config) StorageRetryInitial() time.Duration {
	return time.Duration(c.StorageRetryInitialMS) * time.Millisecond
}

// StorageRetryMax returns StorageRetryMaxMS as a duration.
func (c *Config) StorageRetryMax() time.Duration {
	return time.Duration(c.StorageRetryMaxMS) * time.Millisecond
}

// RepairInterval returns RepairIntervalS as a duration.
func (c *Config) RepairInterval() time.Duration {
	return time.Duration(c.RepairIntervalS) * time.Second
}

// BadgerGCInterval returns BadgerGCIntervalS as a duration.
func (c *Config) BadgerGCInterval() time.Duration {
	return time.Duration(c.BadgerGCIntervalS) * time.Second
}

// Validate reports the first invalid setting wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.ComputeConcurrency < 1:
		return fmt.Errorf("%w: compute_concurrency must be positive", ErrInvalidConfig)
	case c.PairTimeoutMS < 1:
		return fmt.Errorf("%w: pair_timeout_ms must be positive", ErrInvalidConfig)
	case c.StorageRetryAttempts < 1:
		return fmt.Errorf("%w: storage_retry_attempts must be positive", ErrInvalidConfig)
	case c.StorageRetryInitialMS < 1 || c.StorageRetryMaxMS < c.StorageRetryInitialMS:
		return fmt.Errorf("%w: storage retry interval bounds are inconsistent", ErrInvalidConfig)
	case c.RepairIntervalS < 0:
		return fmt.Errorf("%w: repair_interval_s must not be negative", ErrInvalidConfig)
	case c.RecommendedBlend < 0 || c.RecommendedBlend > 1:
		return fmt.Errorf("%w: recommended_blend must be within [0,1]", ErrInvalidConfig)
	case c.DefaultSkillWeight <= 0:
		return fmt.Errorf("%w: default_skill_weight must be positive", ErrInvalidConfig)
	case !oneOf(c.SimilarityMetric, similarityMetrics):
		return fmt.Errorf("%w: similarity_metric %q not in %v", ErrInvalidConfig, c.SimilarityMetric, similarityMetrics)
	case !oneOf(c.StoreDriver, storeDrivers):
		return fmt.Errorf("%w: store_driver %q not in %v", ErrInvalidConfig, c.StoreDriver, storeDrivers)
	case !oneOf(c.LogFormat, logFormats):
		return fmt.Errorf("%w: log_format %q not in %v", ErrInvalidConfig, c.LogFormat, logFormats)
	case c.StoreDriver == "sqlite" && c.SQLiteDSN == "":
		return fmt.Errorf("%w: sqlite_dsn is required for the sqlite driver", ErrInvalidConfig)
	}
	for skill, w := range c.SkillWeights {
		if w <= 0 {
			return fmt.Errorf("%w: skill weight for %q must be positive", ErrInvalidConfig, skill)
		}
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
