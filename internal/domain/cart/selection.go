package cart

import (
	"sync"
	"time"

	"github.com/xenking/storefront-gateway/internal/domain/coupon"
)

// Coupon selection retention defaults, matching the session cookie lifetime.
const (
	DefaultSelectionLimit = 100_000
	DefaultSelectionTTL   = 30 * 24 * time.Hour
)

type selection struct {
	applied coupon.Applied
	touched time.Time
}

// selections remembers the coupon chosen per session. Entries idle for
// longer than ttl are treated as gone, and at most limit are kept; the
// least recently touched one is dropped first.
type selections struct {
	mu    sync.Mutex
	byID  map[string]selection
	limit int
	ttl   time.Duration
	now   func() time.Time
}

func newSelections(limit int, ttl time.Duration) *selections {
	return &selections{
		byID:  make(map[string]selection),
		limit: limit,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (s *selections) expired(e selection, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.touched) > s.ttl
}

func (s *selections) get(id string) *coupon.Applied {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return nil
	}
	now := s.now()
	if s.expired(e, now) {
		delete(s.byID, id)
		return nil
	}
	e.touched = now
	s.byID[id] = e
	a := e.applied
	return &a
}

// set stores a for id; nil forgets it.
func (s *selections) set(id string, a *coupon.Applied) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a == nil {
		delete(s.byID, id)
		return
	}
	now := s.now()
	if _, ok := s.byID[id]; !ok {
		s.makeRoom(now)
	}
	s.byID[id] = selection{applied: *a, touched: now}
}

// move hands the selection of from over to to.
func (s *selections) move(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[from]
	if !ok {
		return
	}
	delete(s.byID, from)
	if !s.expired(e, s.now()) {
		s.byID[to] = e
	}
}

func (s *selections) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// makeRoom drops expired entries and then, if still full, the oldest one.
// Caller holds mu.
func (s *selections) makeRoom(now time.Time) {
	if s.limit <= 0 || len(s.byID) < s.limit {
		return
	}
	var (
		oldestID string
		oldest   time.Time
	)
	for id, e := range s.byID {
		if s.expired(e, now) {
			delete(s.byID, id)
			continue
		}
		if oldestID == "" || e.touched.Before(oldest) {
			oldestID, oldest = id, e.touched
		}
	}
	if len(s.byID) >= s.limit {
		delete(s.byID, oldestID)
	}
}
