package worker

import (
	"time"

	"github.com/yungbote/forge-backend/internal/platform/envutil"
)

// Lane is a group of worker goroutines sharing a claim filter. A lane with
// no JobTypes takes every type not owned by another lane.
type Lane struct {
	Name          string
	JobTypes      []string
	Concurrency   int
	RatePerSecond float64
	Burst         int
}

type Config struct {
	Lanes             []Lane
	PollInterval      time.Duration
	StaleRunning      time.Duration
	HeartbeatInterval time.Duration
	JobTimeout        time.Duration
	RetryBase         time.Duration
	RetryMax          time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.Lanes) == 0 {
		c.Lanes = []Lane{{Name: "default", Concurrency: 1}}
	}
	for i := range c.Lanes {
		if c.Lanes[i].Concurrency < 1 {
			c.Lanes[i].Concurrency = 1
		}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 10 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 5 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Minute
	}
	return c
}

// backoff doubles from RetryBase per attempt, capped at RetryMax.
func (c Config) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.RetryMax {
			return c.RetryMax
		}
	}
	if d > c.RetryMax {
		return c.RetryMax
	}
	return d
}

// ConfigFromEnv builds the lane layout. startTypes get a dedicated rate
// limited lane and serialTypes a single-slot lane.
func ConfigFromEnv(startTypes, serialTypes []string) Config {
	lanes := []Lane{{
		Name:        "default",
		Concurrency: envutil.Int("WORKER_CONCURRENCY", 4),
	}}
	if len(startTypes) > 0 {
		lanes = append(lanes, Lane{
			Name:          "build_start",
			JobTypes:      startTypes,
			Concurrency:   envutil.Int("BUILD_START_CONCURRENCY", 5),
			RatePerSecond: envutil.Float("BUILD_START_RATE_PER_SECOND", 25),
			Burst:         envutil.Int("BUILD_START_BURST", 5),
		})
	}
	if len(serialTypes) > 0 {
		lanes = append(lanes, Lane{Name: "serial", JobTypes: serialTypes, Concurrency: 1})
	}
	return Config{
		Lanes:             lanes,
		PollInterval:      envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
		StaleRunning:      envutil.Duration("WORKER_STALE_RUNNING", 10*time.Minute),
		HeartbeatInterval: envutil.Duration("WORKER_HEARTBEAT_INTERVAL", 30*time.Second),
		JobTimeout:        envutil.Duration("WORKER_JOB_TIMEOUT", 5*time.Minute),
		RetryBase:         envutil.Duration("WORKER_RETRY_BASE", 5*time.Second),
		RetryMax:          envutil.Duration("WORKER_RETRY_MAX", 5*time.Minute),
	}
}
