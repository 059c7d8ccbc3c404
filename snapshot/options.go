package snapshot

import (
	"time"

	"github.com/hallucifix/go-resilience/clock"
	"github.com/hallucifix/go-resilience/logger"
)

const (
	// DefaultQueryTimeout bounds each Redis round trip.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultPrefix namespaces Redis keys.
	DefaultPrefix = "resilience:snapshot"
)

type config struct {
	retention    time.Duration
	pruneEvery   time.Duration
	prefix       string
	queryTimeout time.Duration
	log          logger.Logger
	clock        clock.Clock
}

// Option configures a Store.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		prefix:       DefaultPrefix,
		queryTimeout: DefaultQueryTimeout,
		clock:        clock.New(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.pruneEvery <= 0 {
		cfg.pruneEvery = time.Minute
	}
	cfg.log = logger.OrNoop(cfg.log).WithPrefix("[snapshot]")
	return cfg
}

// WithRetention drops snapshots older than d. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(c *config) { c.retention = d }
}

// WithPruneInterval sets how often the SQLite store deletes snapshots past
// their retention. Defaults to one minute.
func WithPruneInterval(d time.Duration) Option {
	return func(c *config) { c.pruneEvery = d }
}

// WithPrefix sets the Redis key prefix.
func WithPrefix(prefix string) Option {
	return func(c *config) { c.prefix = prefix }
}

// WithQueryTimeout bounds each Redis round trip.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.log = log }
}

func WithClock(clk clock.Clock) Option {
	return func(c *config) { c.clock = clk }
}
