package cache

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Get retrieves a typed value. Values stored in-process are type-asserted;
// values restored from a snapshot are msgpack-decoded.
func Get[T any](c *ResponseCache, key string) (bool, T, error) {
	val, found := c.Get(key)
	if !found {
		var zero T
		return false, zero, nil
	}
	typed, err := As[T](val)
	if err != nil {
		return false, typed, err
	}
	return true, typed, nil
}

// As converts a value read from the cache to T, decoding raw msgpack
// payloads restored from a snapshot.
func As[T any](val any) (T, error) {
	var zero T
	if typed, ok := val.(T); ok {
		return typed, nil
	}
	var data []byte
	switch v := val.(type) {
	case msgpack.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		return zero, fmt.Errorf("cache: cannot convert value of type %T to %T", val, zero)
	}
	var result T
	if err := msgpack.Unmarshal(data, &result); err != nil {
		return zero, fmt.Errorf("cache: failed to unmarshal value: %w", err)
	}
	return result, nil
}

// Invoker produces a value of type T. Returning false signals "not found";
// nothing is cached in that case.
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Exec is a cache-aside helper. On a hit it returns the cached value without
// calling invoke. On a miss it calls invoke and caches the result when
// invoke reports found. Errors from invoke are returned unchanged and
// nothing is cached.
func Exec[T any](ctx context.Context, c *ResponseCache, key string, opts SetOptions, invoke Invoker[T]) (bool, T, error) {
	var zero T
	found, val, err := Get[T](c, key)
	if err != nil {
		return false, zero, err
	}
	if found {
		return true, val, nil
	}
	result, ok, err := invoke(ctx)
	if err != nil {
		return false, zero, err
	}
	if !ok {
		return false, zero, nil
	}
	c.Set(key, result, opts)
	return true, result, nil
}
