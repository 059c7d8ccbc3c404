package recovery

import (
	"context"
	"time"

	"github.com/hallucifix/go-resilience/apierror"
)

// Outcome is what a strategy reports after one attempt.
type Outcome struct {
	Success     bool
	ShouldRetry bool
	Message     string
}

// Context accumulates the state of one AttemptRecovery call and is passed
// to every condition and action.
type Context struct {
	// Kind is the error kind being recovered.
	Kind apierror.Kind
	// StartedAt is when the recovery began.
	StartedAt time.Time
	// Attempts holds the attempts made so far in this recovery.
	Attempts []AttemptRecord
}

// Tried reports whether strategyID was already attempted in this recovery.
func (c *Context) Tried(strategyID string) bool {
	for _, a := range c.Attempts {
		if a.StrategyID == strategyID {
			return true
		}
	}
	return false
}

// Action performs one recovery attempt. attempt starts at 1. A returned
// error fails the attempt; the strategy is retried only if the Outcome asks
// for it.
type Action func(ctx context.Context, err *apierror.Error, rc *Context, attempt int) (Outcome, error)

// Strategy is a prioritized remedy for one error kind.
type Strategy struct {
	ID       string
	Priority int
	// MaxAttempts bounds retries of this strategy within one recovery.
	// Values below 1 mean one attempt.
	MaxAttempts int
	// Cooldown is the minimum gap between two invocations of this strategy
	// for the same error kind.
	Cooldown time.Duration
	// Conditions, when set, must return true for the strategy to run.
	Conditions func(err *apierror.Error, rc *Context) bool
	Action     Action
}

func (s Strategy) attempts() int {
	if s.MaxAttempts < 1 {
		return 1
	}
	return s.MaxAttempts
}

// NetworkMonitor reports connectivity.
type NetworkMonitor interface {
	// WaitForConnection blocks until the network is reachable or ctx is done.
	WaitForConnection(ctx context.Context) error
}

// SessionService renews credentials.
type SessionService interface {
	RefreshToken(ctx context.Context) error
}

// Tracker receives every recovery attempt.
type Tracker interface {
	RecordAttempt(ctx context.Context, err *apierror.Error, strategyID string, success, automatic bool, duration time.Duration)
}
