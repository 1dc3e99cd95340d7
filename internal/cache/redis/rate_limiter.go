package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// RateLimiter implements domain.RateLimiter with fixed windows: one INCR
// counter per key and window, expiring with the window.
type RateLimiter struct {
	client *Client
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{client: c, now: time.Now}
}

// Allow counts one request for key and reports whether it fits in limit.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, fmt.Errorf("redis: rate limit %s: window must be positive", key)
	}
	slot := rl.now().UnixNano() / int64(window)
	k := rl.client.Key("ratelimit:" + key + ":" + strconv.FormatInt(slot, 10))

	pipe := rl.client.Underlying().TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
