package dedup

import (
	"time"

	"github.com/hallucifix/go-resilience/clock"
	"github.com/hallucifix/go-resilience/logger"
)

const (
	// DefaultTTL bounds how long a pending execution is shared.
	DefaultTTL = 30 * time.Second

	// DefaultMaxConcurrent is the default ceiling on distinct pending keys.
	DefaultMaxConcurrent = 100
)

type config struct {
	ttl           time.Duration
	maxConcurrent int
	sweepInterval time.Duration
	log           logger.Logger
	clock         clock.Clock
}

// Option configures a Deduplicator.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		ttl:           DefaultTTL,
		maxConcurrent: DefaultMaxConcurrent,
		clock:         clock.New(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = DefaultTTL
	}
	if cfg.sweepInterval <= 0 {
		cfg.sweepInterval = cfg.ttl / 2
	}
	cfg.log = logger.OrNoop(cfg.log).WithPrefix("[dedup]")
	return cfg
}

// WithTTL sets the default age after which a pending execution is no longer
// joined and is timed out by the sweep.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithMaxConcurrent sets the ceiling on distinct pending keys. Zero or less
// removes the ceiling.
func WithMaxConcurrent(n int) Option {
	return func(c *config) { c.maxConcurrent = n }
}

// WithSweepInterval sets how often stale pending entries are timed out.
// Defaults to half the TTL.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clock = clk
		}
	}
}
