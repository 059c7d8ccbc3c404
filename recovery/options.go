package recovery

import (
	"time"

	"github.com/hallucifix/go-resilience/clock"
	"github.com/hallucifix/go-resilience/logger"
)

const (
	// DefaultMaxConcurrent caps recoveries in flight across all kinds.
	DefaultMaxConcurrent = 3

	// DefaultCooldown is the minimum gap between two recoveries of any kind.
	DefaultCooldown = time.Second

	// DefaultHistorySize bounds the attempt history.
	DefaultHistorySize = 100
)

type config struct {
	enabled       bool
	maxConcurrent int
	cooldown      time.Duration
	historySize   int
	tracker       Tracker
	log           logger.Logger
	clock         clock.Clock
}

// Option configures a Manager.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		enabled:       true,
		maxConcurrent: DefaultMaxConcurrent,
		cooldown:      DefaultCooldown,
		historySize:   DefaultHistorySize,
		clock:         clock.New(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.historySize <= 0 {
		cfg.historySize = DefaultHistorySize
	}
	cfg.log = logger.OrNoop(cfg.log).WithPrefix("[recovery]")
	return cfg
}

// WithEnabled turns automatic recovery on or off. Enabled by default.
func WithEnabled(enabled bool) Option {
	return func(c *config) { c.enabled = enabled }
}

// WithMaxConcurrent caps recoveries in flight. Zero or less removes the cap.
func WithMaxConcurrent(n int) Option {
	return func(c *config) { c.maxConcurrent = n }
}

// WithCooldown sets the global gap between recoveries. Zero disables it.
func WithCooldown(d time.Duration) Option {
	return func(c *config) { c.cooldown = d }
}

// WithHistorySize bounds the attempt history.
func WithHistorySize(n int) Option {
	return func(c *config) { c.historySize = n }
}

// WithTracker forwards every attempt to t.
func WithTracker(t Tracker) Option {
	return func(c *config) { c.tracker = t }
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
