// Package middleware holds HTTP middleware for the gateway's public surface.
package middleware

import (
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig defines per-client request limits.
type RateLimitConfig struct {
	MaxPerMinute int // steady-state limit per client per minute
	Burst        int // short bursts tolerated above the limit
}

// RateLimiter enforces a per-client sliding window over API calls. Clients
// are keyed by the X-Forwarded-For header when present, else the remote IP.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	cfg     RateLimitConfig
	clock   func() time.Time
	logger  *log.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

type window struct {
	count int
	start time.Time
}

// NewRateLimiter builds a limiter. Zero config fields get defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.MaxPerMinute <= 0 {
		cfg.MaxPerMinute = 120
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.MaxPerMinute * 2
	}
	rl := &RateLimiter{
		windows: make(map[string]*window),
		cfg:     cfg,
		clock:   time.Now,
		logger:  log.New(log.Writer(), "[RateLimit] ", log.LstdFlags),
		stop:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Close stops the background cleanup goroutine. Idempotent.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// SetClock overrides the time source. Tests only.
func (rl *RateLimiter) SetClock(clock func() time.Time) {
	rl.clock = clock
}

// Allow reports whether a request from key fits the window.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) > time.Minute {
		rl.windows[key] = &window{count: 1, start: now}
		return true
	}

	w.count++
	if w.count > rl.cfg.Burst {
		rl.logger.Printf("client %s over burst limit (%d)", key, w.count)
		return false
	}
	return w.count <= rl.cfg.MaxPerMinute
}

// Middleware wraps a handler with the limiter, answering 429 when a client
// exceeds its budget.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cleanup drops windows that have been idle for several minutes.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}
		cutoff := rl.clock().Add(-5 * time.Minute)
		rl.mu.Lock()
		for key, w := range rl.windows {
			if w.start.Before(cutoff) {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}
