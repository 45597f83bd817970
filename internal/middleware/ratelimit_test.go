package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_allowWithinLimit(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("ip:1.2.3.4"), "request %d should be allowed", i+1)
	}
	assert.False(t, rl.Allow("ip:1.2.3.4"))
}

func TestRateLimiter_keysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)

	assert.True(t, rl.Allow("ip:1.2.3.4"))
	assert.False(t, rl.Allow("ip:1.2.3.4"))
	assert.True(t, rl.Allow("ip:5.6.7.8"))
}

func TestRateLimiter_windowSlides(t *testing.T) {
	rl := NewRateLimiter(20*time.Millisecond, 1)

	assert.True(t, rl.Allow("ip:1.2.3.4"))
	assert.False(t, rl.Allow("ip:1.2.3.4"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("ip:1.2.3.4"))
}

func TestRateLimiter_allowAllRecordsAllOrNone(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)

	assert.True(t, rl.AllowAll("ip:1.2.3.4", "email:a@example.com"))
	assert.False(t, rl.AllowAll("ip:1.2.3.4", "email:b@example.com"))

	// The denied request must not have consumed a slot for the fresh key.
	assert.True(t, rl.Allow("email:b@example.com"))
}

func TestRateLimiter_allowAllDeniedOnSecondKeyLeavesFirstUntouched(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)

	assert.True(t, rl.Allow("email:a@example.com"))
	assert.False(t, rl.AllowAll("ip:1.2.3.4", "email:a@example.com"))
	assert.True(t, rl.Allow("ip:1.2.3.4"))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)
	handler := RateLimitMiddleware(rl, GetIPKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/request-magic-link", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGetIPKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "ip:192.0.2.1:1234", GetIPKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 198.51.100.2")
	assert.Equal(t, "ip:203.0.113.9", GetIPKey(req))
}

func TestGetEmailKey(t *testing.T) {
	assert.Equal(t, "email:rider@example.com", GetEmailKey("  Rider@Example.COM "))
}
