// ollamachat/middlewares/ratelimit.go
package middlewares

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ollamachat/ollamachat/utils/errs"
	httputils "ollamachat/ollamachat/utils/http"
	"ollamachat/ollamachat/utils/logging"
)

const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per session.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

// Allow spends one token from key's bucket.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	now := l.now()
	e.lastSeen = now
	l.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// Sweep drops buckets that have not been used for limiterIdle.
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-limiterIdle)
	removed := 0
	for k, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, k)
			removed++
		}
	}
	return removed
}

func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Run sweeps idle buckets until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) {
	t := time.NewTicker(limiterIdle / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

// RateLimit rejects requests from a session that is out of tokens. It must
// run after Session.
func RateLimit(l *RateLimiter, logs *logging.Loggers) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := SessionID(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}
			if !l.Allow(key) {
				w.Header().Set("Retry-After", "60")
				httputils.WriteError(w, r, logs, errs.New(errs.RateLimited, "Too many requests",
					"You're sending requests too quickly. Please wait a moment and try again."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
