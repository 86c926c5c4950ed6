package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	bucketSweepEvery = 5 * time.Minute
	bucketTTL        = 10 * time.Minute
)

// rateLimiter applies a token bucket per client IP. Buckets idle longer
// than bucketTTL are swept during allow calls, so memory stays bounded
// under a churning client population without a background goroutine.
type rateLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	buckets   map[netip.Addr]*ipBucket
	nextSweep time.Time
}

type ipBucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter creates a limiter refilling r tokens per second per IP,
// with burst as both the bucket cap and the initial allowance.
func newRateLimiter(r float64, burst int) *rateLimiter {
	return &rateLimiter{
		limit:     rate.Limit(r),
		burst:     burst,
		buckets:   make(map[netip.Addr]*ipBucket),
		nextSweep: time.Now().Add(bucketSweepEvery),
	}
}

// allow reports whether a request from ip may proceed, spending one token.
// Addresses that fail to parse all share the zero-Addr bucket; a flood of
// garbage addresses is throttled as one client instead of waved through.
func (rl *rateLimiter) allow(ip string) bool {
	addr, _ := netip.ParseAddr(ip)
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.nextSweep) {
		rl.sweep(now)
	}

	b := rl.buckets[addr]
	if b == nil {
		b = &ipBucket{tokens: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[addr] = b
	}
	b.lastSeen = now
	return b.tokens.Allow()
}

// sweep drops buckets idle past bucketTTL. Caller holds mu.
func (rl *rateLimiter) sweep(now time.Time) {
	for addr, b := range rl.buckets {
		if now.Sub(b.lastSeen) > bucketTTL {
			delete(rl.buckets, addr)
		}
	}
	rl.nextSweep = now.Add(bucketSweepEvery)
}

// rateLimitMiddleware rejects requests from IPs that have exhausted their
// bucket with 429 and a Retry-After hint.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if rl.allow(ip) {
				next.ServeHTTP(w, r)
				return
			}
			logger.Warn("rate limit exceeded",
				"ip", ip,
				"path", r.URL.Path,
				"method", r.Method,
			)
			w.Header().Set("Retry-After", "1")
			WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", logger)
		})
	}
}

// clientIP extracts the client IP used as the rate limiter key.
//
// With trustProxy set, X-Real-IP wins over the first X-Forwarded-For hop.
// Header values must parse as addresses; anything else falls through to
// RemoteAddr so clients cannot mint fresh buckets with arbitrary strings.
// Without trustProxy only RemoteAddr is consulted.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, header := range []string{"X-Real-IP", "X-Forwarded-For"} {
			v := r.Header.Get(header)
			if v == "" {
				continue
			}
			first, _, _ := strings.Cut(v, ",")
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return addr.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
