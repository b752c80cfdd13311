package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Allowed   bool
}

// Limiter decides whether the request identified by key may proceed and
// counts it when it may.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// SlidingWindow approximates a sliding window from two aligned fixed
// windows: the previous window's count is weighted by how much of it still
// overlaps the sliding window ending now.
type SlidingWindow struct {
	Max  int
	Size time.Duration
}

// Bucket returns the start of the fixed window containing now.
func (sw SlidingWindow) Bucket(now time.Time) time.Time { return now.Truncate(sw.Size) }

// Decide evaluates a request given the counts of the previous and current
// fixed windows, excluding the request itself.
func (sw SlidingWindow) Decide(prev, curr int64, now time.Time) Decision {
	bucket := sw.Bucket(now)
	overlap := 1 - float64(now.Sub(bucket))/float64(sw.Size)
	used := float64(prev)*max(overlap, 0) + float64(curr)

	d := Decision{Limit: sw.Max, ResetAt: bucket.Add(sw.Size)}
	if used >= float64(sw.Max) {
		return d
	}
	d.Allowed = true
	d.Remaining = max(int(float64(sw.Max)-used-1), 0)
	return d
}

type windowCounts struct {
	bucket time.Time
	prev   int64
	curr   int64
}

// MemoryLimiter is a process-local Limiter.
type MemoryLimiter struct {
	window SlidingWindow

	mu     sync.Mutex
	counts map[string]*windowCounts
}

// NewMemoryLimiter allows max requests per key within a sliding window of
// the given size.
func NewMemoryLimiter(maxRequests int, size time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		window: SlidingWindow{Max: maxRequests, Size: size},
		counts: make(map[string]*windowCounts),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	bucket := l.window.Bucket(now)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counts[key]
	if !ok {
		c = &windowCounts{bucket: bucket}
		l.counts[key] = c
	}
	if !c.bucket.Equal(bucket) {
		if bucket.Sub(c.bucket) == l.window.Size {
			c.prev = c.curr
		} else {
			c.prev = 0
		}
		c.curr = 0
		c.bucket = bucket
	}

	d := l.window.Decide(c.prev, c.curr, now)
	if d.Allowed {
		c.curr++
	}
	return d, nil
}

// Sweep drops keys idle for two windows or more.
func (l *MemoryLimiter) Sweep(now time.Time) {
	cutoff := l.window.Bucket(now).Add(-l.window.Size)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counts {
		if c.bucket.Before(cutoff) {
			delete(l.counts, key)
		}
	}
}

// Run sweeps idle keys every two windows until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * l.window.Size)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	Limiter Limiter
	// KeyFunc extracts the rate limit key from a request. If nil, the client
	// IP address is used. See CookieKey.
	KeyFunc func(*http.Request) string
}

// RateLimit rejects requests over the limiter's budget with 429 and the JSON
// error envelope. Every response carries X-RateLimit-Limit,
// X-RateLimit-Remaining and X-RateLimit-Reset. When the limiter fails the
// request is let through.
func RateLimit(cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = clientIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := cfg.Limiter.Allow(r.Context(), keyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				wait := max(d.ResetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// CookieKey keys requests by the value of the named cookie, so every browser
// session gets its own budget. Requests without the cookie fall back to the
// client IP.
func CookieKey(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return "session:" + c.Value
		}
		return "ip:" + clientIP(r)
	}
}
