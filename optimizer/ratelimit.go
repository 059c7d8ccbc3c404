package optimizer

import (
	"time"

	"github.com/hallucifix/go-resilience/apierror"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// window holds the request timestamps of one provider, oldest first, pruned
// to the last hour.
type window struct {
	timestamps []time.Time
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-hourWindow)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}

// count returns the number of requests inside the last d.
func (w *window) count(now time.Time, d time.Duration) int {
	cutoff := now.Add(-d)
	n := 0
	for i := len(w.timestamps) - 1; i >= 0; i-- {
		if !w.timestamps[i].After(cutoff) {
			break
		}
		n++
	}
	return n
}

// retryAfter returns how long until n more requests fit under limit within d.
func (w *window) retryAfter(now time.Time, d time.Duration, limit, n int) time.Duration {
	inWindow := w.count(now, d)
	need := inWindow + n - limit
	if need <= 0 {
		return 0
	}
	if need > inWindow {
		return d
	}
	oldest := w.timestamps[len(w.timestamps)-inWindow+need-1]
	wait := oldest.Add(d).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// reserve records n requests if they fit under limits, or returns a
// *apierror.RateLimitError without recording anything.
func (w *window) reserve(provider string, limits ProviderLimits, now time.Time, n int) error {
	w.prune(now)
	if limits.RequestsPerMinute > 0 && w.count(now, minuteWindow)+n > limits.RequestsPerMinute {
		return &apierror.RateLimitError{
			Provider:   provider,
			Limit:      limits.RequestsPerMinute,
			Window:     minuteWindow,
			RetryAfter: w.retryAfter(now, minuteWindow, limits.RequestsPerMinute, n),
		}
	}
	if limits.RequestsPerHour > 0 && w.count(now, hourWindow)+n > limits.RequestsPerHour {
		return &apierror.RateLimitError{
			Provider:   provider,
			Limit:      limits.RequestsPerHour,
			Window:     hourWindow,
			RetryAfter: w.retryAfter(now, hourWindow, limits.RequestsPerHour, n),
		}
	}
	for i := 0; i < n; i++ {
		w.timestamps = append(w.timestamps, now)
	}
	return nil
}

// RateLimitStatus describes a provider's current position in its windows.
type RateLimitStatus struct {
	RequestsLastMinute int           `json:"requests_last_minute"`
	RequestsLastHour   int           `json:"requests_last_hour"`
	RequestsPerMinute  int           `json:"requests_per_minute"`
	RequestsPerHour    int           `json:"requests_per_hour"`
	Remaining          int           `json:"remaining"`
	ResetIn            time.Duration `json:"reset_in"`
}

// status reports window usage. Remaining is -1 when the provider has no
// request limits.
func (w *window) status(limits ProviderLimits, now time.Time) RateLimitStatus {
	s := RateLimitStatus{
		RequestsLastMinute: w.count(now, minuteWindow),
		RequestsLastHour:   w.count(now, hourWindow),
		RequestsPerMinute:  limits.RequestsPerMinute,
		RequestsPerHour:    limits.RequestsPerHour,
		Remaining:          -1,
	}
	if limits.RequestsPerMinute > 0 {
		s.Remaining = max(0, limits.RequestsPerMinute-s.RequestsLastMinute)
		if s.RequestsLastMinute > 0 {
			s.ResetIn = w.retryAfter(now, minuteWindow, s.RequestsLastMinute, 1)
		}
	}
	if limits.RequestsPerHour > 0 {
		remaining := max(0, limits.RequestsPerHour-s.RequestsLastHour)
		if s.Remaining < 0 || remaining < s.Remaining {
			s.Remaining = remaining
		}
	}
	return s
}
