package app

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Adam5421/SmartAIExam/internal/app/apiresp"
	"github.com/Adam5421/SmartAIExam/internal/auth"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyRateLimiter keeps one token bucket per client key. Buckets idle for
// longer than the refill window are dropped on the next sweep.
type KeyRateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	visitors map[string]*visitor
	now      func() time.Time
}

func NewKeyRateLimiter(max int, window time.Duration) *KeyRateLimiter {
	if max <= 0 {
		max = 50
	}
	if window <= 0 {
		window = time.Minute
	}
	return &KeyRateLimiter{
		limit:    rate.Every(window / time.Duration(max)),
		burst:    max,
		idle:     window,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (l *KeyRateLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Sweep forgets clients not seen within the idle window.
func (l *KeyRateLimiter) Sweep() {
	cutoff := l.now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
		}
	}
}

func (l *KeyRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// RateLimitMiddleware limits per caller id for token-authenticated callers and
// per client ip otherwise, since an unverified X-User-ID can be rotated freely.
func RateLimitMiddleware(l *KeyRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", "60")
				apiresp.WriteError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if u, ok := auth.CurrentUser(r.Context()); ok && u.Authenticated && u.ID != "" && u.ID != u.Role {
		return "user:" + u.ID
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return "ip:" + host
}
