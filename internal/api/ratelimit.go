package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter keeps a token bucket per remote IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipBucket
	rate     rate.Limit
	burst    int
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(requestsPerSecond float64, burst int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*ipBucket),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	b, ok := l.limiters[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()
	return b.limiter.Allow()
}

func (l *ipLimiter) cleanup(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for ip, b := range l.limiters {
		if b.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

// StartCleanup periodically removes stale per-IP buckets.
func (l *ipLimiter) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.cleanup(maxAge)
			}
		}
	}()
}

// ipRateLimitMiddleware rate-limits by remote IP. RemoteAddr already holds
// the real client IP thanks to chi's RealIP middleware.
func ipRateLimitMiddleware(l *ipLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr // no port present
			}
			if !l.allow(ip) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
