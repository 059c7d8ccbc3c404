package sys

import (
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/logger"
)

// ErrPanic marks errors produced from a recovered panic.
var ErrPanic = errors.New("panic recovered")

// PanicError converts a recovered panic value into an error matching
// ErrPanic. A panic with an error value also matches that error.
func PanicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return errors.Join(ErrPanic, err)
	}
	return errors.Wrapf(ErrPanic, "%v", r)
}

// SafeCall runs fn and turns a panic into an error instead of crashing the
// goroutine.
func SafeCall[T any](log logger.Logger, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError(r)
			logger.OrNoop(log).Error("recovered from panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

// RecoverPanic logs a panic instead of crashing. Use it as `defer sys.RecoverPanic(log)`.
func RecoverPanic(log logger.Logger) {
	if r := recover(); r != nil {
		logger.OrNoop(log).Error("recovered from panic: %s\n%s", fmt.Sprint(r), debug.Stack())
	}
}
