package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront-gateway/internal/domain/cart"
)

const cartPrefix = "cart:"

// CartStore implements cart.Repository. Each save refreshes the expiry.
type CartStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartStore creates a CartStore. A non-positive ttl selects DefaultTTL.
func NewCartStore(client *redis.Client, ttl time.Duration) *CartStore {
	return &CartStore{client: client, ttl: ttlOrDefault(ttl)}
}

// Load returns the stored cart or an empty one.
func (s *CartStore) Load(ctx context.Context, sessionID string) (*cart.Cart, error) {
	raw, err := s.client.Get(ctx, cartPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return &cart.Cart{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get cart %s", sessionID)
	}
	var c cart.Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errors.Wrapf(err, "decode cart %s", sessionID)
	}
	return &c, nil
}

// Save stores c. An empty cart removes the key.
func (s *CartStore) Save(ctx context.Context, sessionID string, c *cart.Cart) error {
	if c == nil || len(c.Lines) == 0 {
		return s.Delete(ctx, sessionID)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode cart")
	}
	if err := s.client.Set(ctx, cartPrefix+sessionID, raw, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "set cart %s", sessionID)
	}
	return nil
}

// Delete removes the cart of the session.
func (s *CartStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, cartPrefix+sessionID).Err(); err != nil {
		return errors.Wrapf(err, "delete cart %s", sessionID)
	}
	return nil
}
