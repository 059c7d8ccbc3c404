package optimizer

import (
	"github.com/hallucifix/go-resilience/clock"
	"github.com/hallucifix/go-resilience/llm"
	"github.com/hallucifix/go-resilience/logger"
)

// ProviderLimits caps a provider's request rate and spend. Zero values mean
// unlimited.
type ProviderLimits struct {
	RequestsPerMinute int     `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int     `yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxCostPerRequest float64 `yaml:"max_cost_per_request" json:"max_cost_per_request"`
	DailyCostLimit    float64 `yaml:"daily_cost_limit" json:"daily_cost_limit"`
	MonthlyCostLimit  float64 `yaml:"monthly_cost_limit" json:"monthly_cost_limit"`
}

type config struct {
	providers     map[string]ProviderLimits
	deduplication bool
	enforceCost   bool
	pricing       *llm.Pricing
	log           logger.Logger
	clock         clock.Clock
}

// Option configures an Optimizer.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		providers:     make(map[string]ProviderLimits),
		deduplication: true,
		clock:         clock.New(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.log = logger.OrNoop(cfg.log).WithPrefix("[optimizer]")
	return cfg
}

// WithProvider sets the limits for a provider. Providers without limits are
// tracked but never throttled.
func WithProvider(name string, limits ProviderLimits) Option {
	return func(c *config) { c.providers[name] = limits }
}

// WithDeduplication toggles routing work through the Deduplicator. Enabled
// by default.
func WithDeduplication(enabled bool) Option {
	return func(c *config) { c.deduplication = enabled }
}

// WithCostEnforcement rejects requests that IsWithinCostLimits refuses with
// apierror.ErrCostLimitExceeded. Disabled by default.
func WithCostEnforcement(enabled bool) Option {
	return func(c *config) { c.enforceCost = enabled }
}

// WithPricing sets the table used to estimate cost from token counts when a
// request carries no explicit estimate.
func WithPricing(p *llm.Pricing) Option {
	return func(c *config) { c.pricing = p }
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
