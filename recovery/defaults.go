package recovery

import (
	"context"
	"time"

	"github.com/hallucifix/go-resilience/apierror"
	"github.com/hallucifix/go-resilience/clock"
)

// Built-in strategy IDs.
const (
	StrategyNetworkWait   = "network-wait"
	StrategyTokenRefresh  = "token-refresh"
	StrategyRateLimitWait = "rate-limit-wait"
	StrategyBackoff       = "exponential-backoff"
)

// DefaultStrategyConfig configures RegisterDefaultStrategies. Zero durations
// take the documented defaults.
type DefaultStrategyConfig struct {
	// Network enables the network-wait strategy.
	Network NetworkMonitor
	// Session enables the token-refresh strategy.
	Session SessionService

	// NetworkTimeout bounds the wait for connectivity. Defaults to 30s.
	NetworkTimeout time.Duration
	// RateLimitWait is used when an error carries no RetryAfter. Defaults to 1s.
	RateLimitWait time.Duration
	// BackoffBase is the first backoff delay. Defaults to 1s.
	BackoffBase time.Duration
	// BackoffMax caps the backoff delay. Defaults to 30s.
	BackoffMax time.Duration
	// BackoffAttempts bounds backoff attempts per recovery. Defaults to 3.
	BackoffAttempts int

	// Clock performs the waits. Defaults to the wall clock.
	Clock clock.Clock
}

func (c *DefaultStrategyConfig) defaults() {
	if c.NetworkTimeout <= 0 {
		c.NetworkTimeout = 30 * time.Second
	}
	if c.RateLimitWait <= 0 {
		c.RateLimitWait = time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.BackoffAttempts <= 0 {
		c.BackoffAttempts = 3
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// RegisterDefaultStrategies installs the built-in strategies on m:
//
//   - network errors wait for the NetworkMonitor to report connectivity
//   - authentication errors refresh the session token
//   - rate-limit errors wait out the advertised RetryAfter
//   - server and timeout errors wait an exponential backoff delay
//
// The network and authentication strategies are only registered when their
// collaborator is set. Waiting strategies report success once the wait has
// elapsed; they do not verify that the failed request would now succeed.
func RegisterDefaultStrategies(m *Manager, cfg DefaultStrategyConfig) {
	cfg.defaults()

	if cfg.Network != nil {
		m.RegisterStrategy(apierror.KindNetwork, Strategy{
			ID:          StrategyNetworkWait,
			Priority:    100,
			MaxAttempts: 1,
			Action: func(ctx context.Context, _ *apierror.Error, _ *Context, _ int) (Outcome, error) {
				ctx, cancel := context.WithTimeout(ctx, cfg.NetworkTimeout)
				defer cancel()
				if err := cfg.Network.WaitForConnection(ctx); err != nil {
					return Outcome{Message: "network did not recover"}, err
				}
				return Outcome{Success: true, Message: "network connection restored"}, nil
			},
		})
	}

	if cfg.Session != nil {
		m.RegisterStrategy(apierror.KindAuthentication, Strategy{
			ID:          StrategyTokenRefresh,
			Priority:    100,
			MaxAttempts: 2,
			Cooldown:    5 * time.Second,
			Action: func(ctx context.Context, _ *apierror.Error, _ *Context, _ int) (Outcome, error) {
				if err := cfg.Session.RefreshToken(ctx); err != nil {
					return Outcome{ShouldRetry: true, Message: "token refresh failed"}, err
				}
				return Outcome{Success: true, Message: "session token refreshed"}, nil
			},
		})
	}

	m.RegisterStrategy(apierror.KindRateLimit, Strategy{
		ID:          StrategyRateLimitWait,
		Priority:    100,
		MaxAttempts: 1,
		Action: func(ctx context.Context, e *apierror.Error, _ *Context, _ int) (Outcome, error) {
			wait := e.RetryAfter
			if wait <= 0 {
				wait = cfg.RateLimitWait
			}
			if err := cfg.Clock.Sleep(ctx, wait); err != nil {
				return Outcome{}, err
			}
			return Outcome{Success: true, Message: "waited " + wait.String() + " for rate limit"}, nil
		},
	})

	backoff := Strategy{
		ID:          StrategyBackoff,
		Priority:    50,
		MaxAttempts: cfg.BackoffAttempts,
		Action: func(ctx context.Context, _ *apierror.Error, _ *Context, attempt int) (Outcome, error) {
			delay := BackoffDelay(cfg.BackoffBase, cfg.BackoffMax, attempt)
			if err := cfg.Clock.Sleep(ctx, delay); err != nil {
				return Outcome{}, err
			}
			return Outcome{Success: true, Message: "backed off " + delay.String()}, nil
		},
	}
	m.RegisterStrategy(apierror.KindServer, backoff)
	m.RegisterStrategy(apierror.KindTimeout, backoff)
}

// BackoffDelay returns base * 2^(attempt-1), capped at limit.
func BackoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit || delay <= 0 {
			return limit
		}
	}
	return min(delay, limit)
}
