package scheduler

import (
	"errors"
	"time"

	appconfig "github.com/smallbiznis/sendora/internal/config"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

// Config controls scheduler intervals, batch sizes, and job leases.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	LeaseTTL    time.Duration
	// EnabledJobs empty means all jobs run (monolith mode).
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   50,
		JobTimeout:  30 * time.Second,
		LeaseTTL:    2 * time.Minute,
	}
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
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	return c
}

// ProvideConfig maps the env-driven app config onto scheduler knobs.
func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.RunInterval,
		BatchSize:   cfg.Scheduler.BatchSize,
		JobTimeout:  cfg.Scheduler.JobTimeout,
		LeaseTTL:    time.Duration(cfg.RateLimit.LeaseTTLSeconds) * time.Second,
		EnabledJobs: cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}
