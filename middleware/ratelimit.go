package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/dmitrymomot/tailbus/core/response"
)

const (
	defaultLimiterTTL     = 3 * time.Minute
	defaultCleanupPeriod  = time.Minute
	defaultRateLimitBurst = 1
)

// ipLimiter holds a rate limiter and the last time it was accessed.
type ipLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func (l *ipLimiter) touch(now time.Time) {
	l.mu.Lock()
	l.lastSeen = now
	l.mu.Unlock()
}

func (l *ipLimiter) idle(now time.Time, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.lastSeen) > ttl
}

// LimiterStore manages per-key rate limiters with periodic cleanup.
type LimiterStore struct {
	limiters sync.Map
	limit    rate.Limit
	burst    int
	ttl      time.Duration
}

// NewLimiterStore creates a store handing out rate.Limiters with the given rate and burst.
func NewLimiterStore(rps float64, burst int, ttl time.Duration) *LimiterStore {
	if burst <= 0 {
		burst = defaultRateLimitBurst
	}
	if ttl <= 0 {
		ttl = defaultLimiterTTL
	}
	return &LimiterStore{limit: rate.Limit(rps), burst: burst, ttl: ttl}
}

// Get returns the limiter for key, creating one if needed.
func (s *LimiterStore) Get(key string) *rate.Limiter {
	now := time.Now()

	if v, ok := s.limiters.Load(key); ok {
		entry := v.(*ipLimiter)
		entry.touch(now)
		return entry.limiter
	}

	entry := &ipLimiter{limiter: rate.NewLimiter(s.limit, s.burst), lastSeen: now}
	actual, loaded := s.limiters.LoadOrStore(key, entry)
	if loaded {
		existing := actual.(*ipLimiter)
		existing.touch(now)
		return existing.limiter
	}
	return entry.limiter
}

// Len returns the number of tracked keys.
func (s *LimiterStore) Len() int {
	n := 0
	s.limiters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Evict removes limiters idle for longer than the store TTL as of now.
func (s *LimiterStore) Evict(now time.Time) {
	s.limiters.Range(func(key, value any) bool {
		if value.(*ipLimiter).idle(now, s.ttl) {
			s.limiters.Delete(key)
		}
		return true
	})
}

// Run evicts idle limiters every minute until ctx is done.
func (s *LimiterStore) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultCleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.Evict(now)
		case <-ctx.Done():
			return
		}
	}
}

// RateLimit returns a middleware that rejects requests over the per-key limit
// with 429 and a Retry-After header. The store is created by the caller so its
// cleanup loop can be tied to the process lifecycle.
func RateLimit(store *LimiterStore, keyFn func(r *http.Request) string) mux.MiddlewareFunc {
	if keyFn == nil {
		keyFn = ClientIP
	}

	return func(next http.Handler) http.Handler {
		if store == nil || store.limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := store.Get(keyFn(r))

			reservation := limiter.Reserve()
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				response.JSONErrorHandler(w, r, response.ErrTooManyRequests.WithCode("rate_limited"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
