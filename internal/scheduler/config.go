package scheduler

import (
	"time"

	appconfig "github.com/scribeflow/creditcore/internal/config"
)

// Config controls sweep cadence and how long a hold may stay open before it
// is presumed abandoned.
type Config struct {
	RunInterval time.Duration
	HoldTimeout time.Duration
	BatchSize   int
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 10 * time.Minute,
		HoldTimeout: 24 * time.Hour,
		BatchSize:   100,
	}
}

// ProvideConfig derives the sweep settings from application configuration.
func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		RunInterval: cfg.HoldSweepInterval,
		HoldTimeout: cfg.HoldSweepTimeout,
		BatchSize:   cfg.HoldSweepBatch,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.HoldTimeout <= 0 {
		c.HoldTimeout = defaults.HoldTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}
