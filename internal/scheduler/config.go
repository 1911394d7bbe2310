package scheduler

import (
	"time"

	"github.com/smallbiznis/leadforge/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval      time.Duration
	RenewalBatchSize int
	MaxRenewalPasses int
	JobTimeout       time.Duration
	LockTTL          time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		RenewalBatchSize: 50,
		MaxRenewalPasses: 10,
		JobTimeout:       30 * time.Second,
		LockTTL:          2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      time.Duration(cfg.Scheduler.RunIntervalSeconds) * time.Second,
		RenewalBatchSize: cfg.Scheduler.RenewalBatchSize,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.RenewalBatchSize <= 0 {
		c.RenewalBatchSize = defaults.RenewalBatchSize
	}
	if c.MaxRenewalPasses <= 0 {
		c.MaxRenewalPasses = defaults.MaxRenewalPasses
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	// The lock must outlive the job it guards.
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = 2 * c.JobTimeout
	}
	return c
}
