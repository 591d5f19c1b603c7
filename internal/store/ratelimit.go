package store

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter counts requests in fixed time windows keyed by caller
// identity. Counter keys expire on their own; nothing is deleted explicitly.
type RateLimiter struct {
	store  *Store
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(s *Store, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{store: s, limit: limit, window: window, now: time.Now}
}

// Allow increments the caller's counter for the current window and reports
// whether the request is within the limit. When denied, retryAfter is the
// time remaining until the window rolls over.
func (l *RateLimiter) Allow(ctx context.Context, identity string) (bool, time.Duration, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	key := rateKey(identity, windowStart.Unix())

	n, err := l.store.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit incr: %w", err)
	}
	if n == 1 {
		// Twice the window so a straggling request never resurrects the key.
		if err := l.store.rdb.Expire(ctx, key, 2*l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	if n > int64(l.limit) {
		return false, windowStart.Add(l.window).Sub(now), nil
	}
	return true, 0, nil
}
