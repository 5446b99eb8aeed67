package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerMinute: 5, Burst: 10})

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("client-a"))
	}
	assert.False(t, rl.Allow("client-a"))
}

func TestClientsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerMinute: 2, Burst: 4})

	rl.Allow("client-a")
	rl.Allow("client-a")
	assert.False(t, rl.Allow("client-a"))
	assert.True(t, rl.Allow("client-b"))
}

func TestWindowResets(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerMinute: 1, Burst: 2})
	now := time.Now()
	rl.SetClock(func() time.Time { return now })

	require.True(t, rl.Allow("client-a"))
	require.False(t, rl.Allow("client-a"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("client-a"))
}

func TestMiddlewareAnswers429(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerMinute: 1, Burst: 1})
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/poa", nil)
	req.RemoteAddr = "203.0.113.9:51000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxPerMinute: 1, Burst: 1})
	rl.Close()
	rl.Close()

	// The limiter still answers after its cleanup goroutine stops.
	assert.True(t, rl.Allow("client-a"))
}

func TestForwardedForKeysClient(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	assert.Equal(t, "10.0.0.1", clientKey(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientKey(req))
}
