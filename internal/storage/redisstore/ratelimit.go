package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront-gateway/pkg/httpmiddleware"
)

const rateLimitPrefix = "ratelimit:"

// RateLimiter implements httpmiddleware.Limiter with one counter per key and
// fixed window, so every gateway replica draws from the same budget.
type RateLimiter struct {
	client *redis.Client
	window httpmiddleware.SlidingWindow
}

// NewRateLimiter allows max requests per key within a sliding window of the
// given size.
func NewRateLimiter(client *redis.Client, maxRequests int, size time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		window: httpmiddleware.SlidingWindow{Max: maxRequests, Size: size},
	}
}

func (l *RateLimiter) counterKey(key string, bucket time.Time) string {
	return rateLimitPrefix + key + ":" + strconv.FormatInt(bucket.UnixMilli(), 10)
}

// Allow implements httpmiddleware.Limiter. The request is counted first and
// the count is taken back when it is rejected.
func (l *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	bucket := l.window.Bucket(now)
	currKey := l.counterKey(key, bucket)
	prevKey := l.counterKey(key, bucket.Add(-l.window.Size))

	var (
		incr *redis.IntCmd
		prev *redis.StringCmd
	)
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, currKey)
		p.PExpire(ctx, currKey, 2*l.window.Size)
		prev = p.Get(ctx, prevKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return httpmiddleware.Decision{}, errors.Wrapf(err, "count request %s", key)
	}

	prevCount, err := prev.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return httpmiddleware.Decision{}, errors.Wrapf(err, "read previous window %s", key)
	}

	d := l.window.Decide(prevCount, incr.Val()-1, now)
	if !d.Allowed {
		if err := l.client.Decr(ctx, currKey).Err(); err != nil {
			return d, errors.Wrapf(err, "release request %s", key)
		}
	}
	return d, nil
}
