package cache

import (
	"time"

	"github.com/hallucifix/go-resilience/clock"
	"github.com/hallucifix/go-resilience/logger"
)

const (
	// DefaultTTL is used by Set when SetOptions.TTL is zero.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxSize is the default ceiling on total estimated entry bytes.
	DefaultMaxSize int64 = 50 * 1024 * 1024

	// DefaultMaxEntries is the default ceiling on the number of entries.
	DefaultMaxEntries = 1000

	// FallbackEntrySize is charged for values that cannot be serialized.
	FallbackEntrySize int64 = 1024
)

type config struct {
	defaultTTL    time.Duration
	sweepInterval time.Duration
	maxSize       int64
	maxEntries    int
	log           logger.Logger
	clock         clock.Clock
}

// Option configures a ResponseCache.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultTTL: DefaultTTL,
		maxSize:    DefaultMaxSize,
		maxEntries: DefaultMaxEntries,
		clock:      clock.New(),
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.defaultTTL <= 0 {
		cfg.defaultTTL = DefaultTTL
	}
	if cfg.sweepInterval <= 0 {
		cfg.sweepInterval = cfg.defaultTTL / 2
	}
	cfg.log = logger.OrNoop(cfg.log).WithPrefix("[cache]")
	return cfg
}

// WithDefaultTTL sets the TTL used when SetOptions.TTL is zero. Defaults to
// DefaultTTL (5 minutes).
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithSweepInterval sets how often expired entries are purged in the
// background. Defaults to half the default TTL.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

// WithMaxSize sets the ceiling on total estimated bytes. Zero or less
// disables the byte ceiling.
func WithMaxSize(bytes int64) Option {
	return func(c *config) { c.maxSize = bytes }
}

// WithMaxEntries sets the ceiling on the number of entries. Zero or less
// disables the count ceiling.
func WithMaxEntries(n int) Option {
	return func(c *config) { c.maxEntries = n }
}

// WithLogger sets the logger for eviction and sweep events.
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
