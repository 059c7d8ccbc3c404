// Package apierror defines the error taxonomy shared by the cache, dedup,
// optimizer and recovery packages.
package apierror

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrConcurrencyLimit is returned when an in-flight ceiling is reached.
	ErrConcurrencyLimit = errors.New("concurrency limit exceeded")

	// ErrCooldownActive is reported by recovery when a global or per-strategy
	// cooldown has not elapsed.
	ErrCooldownActive = errors.New("recovery cooldown active")

	// ErrCancelled is delivered to waiters of a cancelled dedup key.
	ErrCancelled = errors.New("request cancelled")

	// ErrTimeout is delivered to waiters of a dedup entry that outlived its TTL.
	ErrTimeout = errors.New("request timed out")

	// ErrCostLimitExceeded is returned when cost enforcement rejects a request.
	ErrCostLimitExceeded = errors.New("cost limit exceeded")
)

// Kind classifies an error by its origin.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindAuthentication Kind = "authentication"
	KindRateLimit      Kind = "rate_limit"
	KindServer         Kind = "server"
	KindTimeout        Kind = "timeout"
	KindValidation     Kind = "validation"
	KindUnknown        Kind = "unknown"
)

// Kinds lists every Kind in a stable order.
var Kinds = []Kind{KindNetwork, KindAuthentication, KindRateLimit, KindServer, KindTimeout, KindValidation, KindUnknown}

func (k Kind) String() string {
	return string(k)
}

// Error is a classified failure. It is the descriptor handed to recovery.
type Error struct {
	Kind       Kind
	Message    string
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Cause      error
}

var _ error = (*Error)(nil)

// New returns a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies cause under kind.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	} else if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s error (%s): %s", e.Kind, e.Provider, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets a classified error match the sentinel for its kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindRateLimit:
		return target == ErrRateLimited
	case KindTimeout:
		return target == ErrTimeout
	}
	return false
}

// RateLimitError is raised before any work executes when a provider's
// sliding window ceiling would be exceeded.
type RateLimitError struct {
	Provider   string
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for provider %q: %d requests per %s, retry after %s",
		e.Provider, e.Limit, e.Window, e.RetryAfter.Round(time.Millisecond))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// StatusCoder is implemented by upstream errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// KindFromStatus maps an HTTP status code to a Kind.
func KindFromStatus(code int) Kind {
	switch {
	case code == 401 || code == 403:
		return KindAuthentication
	case code == 408:
		return KindTimeout
	case code == 429:
		return KindRateLimit
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindValidation
	default:
		return KindUnknown
	}
}

// Classify converts any error into a descriptor. A nil error returns nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return &Error{Kind: KindRateLimit, Provider: rl.Provider, RetryAfter: rl.RetryAfter, StatusCode: 429, Cause: err}
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return &Error{Kind: KindFromStatus(sc.StatusCode()), StatusCode: sc.StatusCode(), Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return &Error{Kind: KindTimeout, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Cause: err}
		}
		return &Error{Kind: KindNetwork, Cause: err}
	}
	return &Error{Kind: KindUnknown, Cause: err}
}

// IsTransient reports whether err is worth retrying once conditions improve.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrCostLimitExceeded) {
		return false
	}
	switch Classify(err).Kind {
	case KindNetwork, KindRateLimit, KindServer, KindTimeout, KindAuthentication:
		return true
	}
	return errors.Is(err, ErrConcurrencyLimit)
}
