package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/basego/server/internal/http/response"
)

// Limiter decides whether one more request for key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter implements a simple in-memory rate limiter using a sliding
// window. Counters are per process.
type MemoryLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter creates a limiter allowing maxReqs per window per key.
func NewMemoryLimiter(window time.Duration, maxReqs int) *MemoryLimiter {
	rl := &MemoryLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go rl.cleanup(time.Hour)
	return rl
}

// Allow checks if a request is allowed for the given key
func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	filtered := prune(rl.requests[key], now.Add(-rl.window))
	if len(filtered) >= rl.maxReqs {
		rl.requests[key] = filtered
		return false, nil
	}
	rl.requests[key] = append(filtered, now)
	return true, nil
}

// Stop ends the cleanup goroutine.
func (rl *MemoryLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func prune(reqs []time.Time, cutoff time.Time) []time.Time {
	filtered := make([]time.Time, 0, len(reqs))
	for _, t := range reqs {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// cleanup periodically drops keys with no requests in the window.
func (rl *MemoryLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		cutoff := rl.now().Add(-rl.window)
		for key, reqs := range rl.requests {
			if filtered := prune(reqs, cutoff); len(filtered) == 0 {
				delete(rl.requests, key)
			} else {
				rl.requests[key] = filtered
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit rejects requests over the limiter's budget with 429. Limiter
// errors let the request through.
func RateLimit(limiter Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), keyFunc(r))
			if err != nil {
				Log(r.Context()).Warn("rate limiter unavailable", zap.Error(err))
				allowed = true
			}
			if !allowed {
				response.Fail(w, r, http.StatusTooManyRequests, response.CodeOther,
					"Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKey keys rate limits by client IP, taken from RemoteAddr. Proxy headers
// only count when RealIP ran first.
func IPKey(r *http.Request) string {
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
