package sys

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/logger"
	"github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	ok := Ok(42)
	assert.True(t, ok.IsOk())
	assert.False(t, ok.IsErr())
	v, err := ok.Unwrap()
	assert.Equal(t, 42, v)
	assert.NoError(t, err)

	sentinel := errors.New("sentinel")
	bad := Err[string](sentinel)
	assert.True(t, bad.IsErr())
	assert.True(t, bad.IsErr(sentinel))
	assert.False(t, bad.IsErr(errors.New("other")))
	assert.Equal(t, "", bad.Ok)
}

func TestSafeCallRecoversPanic(t *testing.T) {
	log := logger.NewTestLogger()
	v, err := SafeCall(log, func() (int, error) {
		panic("kaboom")
	})
	assert.Equal(t, 0, v)
	assert.ErrorIs(t, err, ErrPanic)
	assert.Equal(t, "kaboom: panic recovered", err.Error())
	assert.True(t, log.Contains("ERROR", "recovered from panic: kaboom"))
}

func TestSafeCallPanicWithError(t *testing.T) {
	_, err := SafeCall[string](nil, func() (string, error) {
		panic(assert.AnError)
	})
	assert.ErrorIs(t, err, ErrPanic)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), assert.AnError.Error())
}

func TestPanicErrorIdentity(t *testing.T) {
	err := PanicError("kaboom")
	assert.True(t, errors.Is(err, ErrPanic))
	assert.True(t, errors.Is(PanicError(assert.AnError), assert.AnError))
}

func TestSafeCallPassesThrough(t *testing.T) {
	v, err := SafeCall(nil, func() (string, error) { return "ok", nil })
	assert.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestRecoverPanic(t *testing.T) {
	log := logger.NewTestLogger()
	func() {
		defer RecoverPanic(log)
		panic("boom")
	}()
	assert.True(t, log.Contains("ERROR", "boom"))
}
