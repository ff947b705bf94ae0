package services

import (
	"context"
	"fmt"
	"time"

	"github.com/yoockh/yoobatch/internal/kvstore"
	"github.com/yoockh/yoobatch/internal/repositories/coord"
	"github.com/yoockh/yoobatch/internal/utils"
)

// RateLimiter is a fixed-window counter of processing attempts per user.
// Every Check consumes one unit; there is no refund.
type RateLimiter struct {
	store kvstore.Store
	keys  coord.Keys
}

func NewRateLimiter(store kvstore.Store, keys coord.Keys) *RateLimiter {
	return &RateLimiter{store: store, keys: keys}
}

// Check charges one attempt and returns a CodeRateLimited error when the
// window's count exceeds limit. limit <= 0 disables limiting.
//
// The increment is not retried: a lost reply after a successful INCR would
// otherwise charge the user twice.
func (l *RateLimiter) Check(ctx context.Context, userID string, limit int, window time.Duration) error {
	const op = "RateLimiter.Check"

	if limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = 60 * time.Second
	}

	n, err := l.store.IncrWithExpire(ctx, l.keys.RateLLM(userID), window)
	if err != nil {
		return utils.Wrap(op, "failed to count attempt", err)
	}
	if n > int64(limit) {
		return utils.E(utils.CodeRateLimited, op,
			fmt.Sprintf("more than %d processing runs in %s", limit, window), nil)
	}
	return nil
}
