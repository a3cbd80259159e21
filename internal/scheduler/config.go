package scheduler

import (
	"time"

	"github.com/smallbiznis/paycore/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval   time.Duration
	BatchSize     int
	JobTimeout    time.Duration
	LeaderLockTTL time.Duration
	// EnabledJobs limits which jobs run. Empty means all of them.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:   30 * time.Second,
		BatchSize:     50,
		JobTimeout:    30 * time.Second,
		LeaderLockTTL: 2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.SchedulerInterval,
		BatchSize:   cfg.SchedulerBatchSize,
		EnabledJobs: cfg.SchedulerJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LeaderLockTTL <= 0 {
		c.LeaderLockTTL = defaults.LeaderLockTTL
	}
	// the lease has to outlive one pass or a second instance takes over mid-run
	if c.LeaderLockTTL < 2*c.RunInterval {
		c.LeaderLockTTL = 2 * c.RunInterval
	}
	return c
}
