package sys

import "github.com/cockroachdb/errors"

// Result carries either a value (Ok) or an error (Err) across a channel or
// a waiter list.
type Result[T any] struct {
	Ok  T
	Err error
}

// IsOk returns true if the Result contains a successful value (no error).
func (r Result[T]) IsOk() bool {
	return r.Err == nil
}

// IsErr returns true if the Result contains an error. With checks, it
// returns true only when the error matches one of them.
func (r Result[T]) IsErr(checks ...error) bool {
	if len(checks) == 0 {
		return r.Err != nil
	}
	for _, err := range checks {
		if errors.Is(r.Err, err) {
			return true
		}
	}
	return false
}

// Unwrap returns the value and error as a pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.Ok, r.Err
}

// Ok creates a new Result with a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{Ok: value}
}

// Err creates a new Result with an error.
func Err[T any](err error) Result[T] {
	var zero T
	return Result[T]{Ok: zero, Err: err}
}
