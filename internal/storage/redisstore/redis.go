// Package redisstore stores carts, sessions and rate limit counters in Redis.
package redisstore

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an untouched cart or session is kept.
const DefaultTTL = 30 * 24 * time.Hour

// Open connects to the Redis server at url and verifies it is reachable.
// The url has the form redis://[:password@]host[:port][/database].
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis URL")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
