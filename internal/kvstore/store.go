// Package kvstore is the shared coordination store used by every handler
// instance. All cross-instance state goes through the atomic primitives
// below; nothing here may be emulated with a check-then-set from the caller.
package kvstore

import (
	"context"
	"time"
)

// Store is the operation contract of the coordination store.
//
// Implementations report unreachable-store conditions as
// utils.CodeUnavailable errors so that callers can retry them.
type Store interface {
	// AppendWithTTL appends value to the list at key and (re)sets the list TTL
	// in the same atomic step.
	AppendWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Range returns the whole list at key, oldest first. A missing key is an
	// empty list.
	Range(ctx context.Context, key string) ([]string, error)

	// SetNX writes key only if it does not exist, attaching ttl in the same
	// call. It reports whether the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Set writes key unconditionally. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (val string, found bool, err error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error

	// IncrWithExpire increments the counter at key and, when the result is 1,
	// attaches ttl. Both happen atomically.
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// MaxFloat stores v at key unless the stored number is already >= v, and
	// returns the value left in place.
	MaxFloat(ctx context.Context, key string, v float64) (float64, error)
	// CompareAndDelete deletes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	Ping(ctx context.Context) error
}
