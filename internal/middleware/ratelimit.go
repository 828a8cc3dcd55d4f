package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a per-client token bucket for the results API. Buckets are
// keyed by client IP and refill continuously at the configured rate.
type RateLimiter struct {
	mu             sync.Mutex
	clients        map[string]*bucket
	requestsPerMin int

	now func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

func NewRateLimiter(requestsPerMin int) *RateLimiter {
	rl := &RateLimiter{
		clients:        make(map[string]*bucket),
		requestsPerMin: requestsPerMin,
		now:            time.Now,
	}
	go rl.cleanupLoop()
	return rl
}

// Middleware rejects requests over the limit with 429. Shaped as a
// mux.MiddlewareFunc so it can be attached to a whole subrouter.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientKey(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.clients[key]
	if !ok {
		rl.clients[key] = &bucket{tokens: float64(rl.requestsPerMin) - 1, lastRefill: now}
		return true
	}

	refill := now.Sub(b.lastRefill).Minutes() * float64(rl.requestsPerMin)
	b.tokens += refill
	if b.tokens > float64(rl.requestsPerMin) {
		b.tokens = float64(rl.requestsPerMin)
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// cleanupLoop drops buckets idle long enough to have fully refilled.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := rl.now().Add(-5 * time.Minute)
		rl.mu.Lock()
		for key, b := range rl.clients {
			if b.lastRefill.Before(cutoff) {
				delete(rl.clients, key)
			}
		}
		rl.mu.Unlock()
	}
}
