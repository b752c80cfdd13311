package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront-gateway/internal/domain/session"
)

const (
	sessionPrefix = "session:"
	userPrefix    = "session-user:"
)

// SessionStore implements session.Repository. Signed-in sessions are indexed
// by user id; stale index entries are pruned when listed.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a SessionStore. A non-positive ttl selects
// DefaultTTL.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttlOrDefault(ttl)}
}

// Get returns the session with id or session.ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	raw, err := s.client.Get(ctx, sessionPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get session %s", id)
	}
	return decodeSession(raw)
}

// Save stores sess and refreshes its expiry.
func (s *SessionStore) Save(ctx context.Context, sess *session.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionPrefix+sess.ID, raw, s.ttl)
		if uid := sess.UserID(); uid != "" {
			p.SAdd(ctx, userPrefix+uid, sess.ID)
			p.Expire(ctx, userPrefix+uid, s.ttl)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "save session %s", sess.ID)
	}
	return nil
}

// Delete removes the session with id.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionPrefix+id)
		if uid := sess.UserID(); uid != "" {
			p.SRem(ctx, userPrefix+uid, id)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "delete session %s", id)
	}
	return nil
}

// ListByUser returns the sessions currently signed in as userID.
func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]session.Session, error) {
	ids, err := s.client.SMembers(ctx, userPrefix+userID).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list sessions of %s", userID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionPrefix + id
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "load sessions of %s", userID)
	}

	var (
		out   []session.Session
		stale []any
	)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := decodeSession([]byte(str))
		if err != nil {
			return nil, err
		}
		if sess.UserID() != userID {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, *sess)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, userPrefix+userID, stale...).Err(); err != nil {
			return nil, errors.Wrapf(err, "prune sessions of %s", userID)
		}
	}
	return out, nil
}

func decodeSession(raw []byte) (*session.Session, error) {
	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	return &sess, nil
}

// Ping verifies the Redis connection.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
