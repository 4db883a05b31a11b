package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// newTestLimiter returns a RateLimiter whose time only moves when advance is called.
func newTestLimiter(t *testing.T, config RateLimiterConfig) (*RateLimiter, func(time.Duration)) {
	t.Helper()
	rl := NewRateLimiter(config)
	t.Cleanup(rl.Close)

	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	return rl, advance
}

func TestTokenBucket_Allow(t *testing.T) {
	now := time.Now()
	// 5 tokens, refilling at 1 token/second
	bucket := newTokenBucket(5, 1, now)

	for i := 0; i < 5; i++ {
		if !bucket.allow(now) {
			t.Errorf("Request %d should be allowed (burst)", i+1)
		}
	}
	if bucket.allow(now) {
		t.Error("6th request should be denied")
	}

	now = now.Add(1100 * time.Millisecond)
	if !bucket.allow(now) {
		t.Error("Request after refill should be allowed")
	}
	if bucket.allow(now) {
		t.Error("Request should be denied after using refilled token")
	}
}

func TestTokenBucket_Reset(t *testing.T) {
	now := time.Now()
	bucket := newTokenBucket(5, 1, now)

	for i := 0; i < 5; i++ {
		bucket.allow(now)
	}

	if got := bucket.reset(now).Sub(now); got != 5*time.Second {
		t.Errorf("reset in %v, want 5s", got)
	}
}

func TestTokenBucket_Concurrent(t *testing.T) {
	now := time.Now()
	bucket := newTokenBucket(100, 0, now)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bucket.allow(now) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("allowed = %d, want exactly the burst capacity 100", allowed)
	}
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl, advance := newTestLimiter(t, RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if !rl.Allow("192.168.1.1") {
			t.Errorf("IP1 request %d should be allowed", i+1)
		}
	}
	if rl.Allow("192.168.1.1") {
		t.Error("IP1 should be rate limited")
	}
	if !rl.Allow("192.168.1.2") {
		t.Error("IP2 should have its own bucket")
	}
	if got := rl.Remaining("192.168.1.2"); got != 2 {
		t.Errorf("Remaining(IP2) = %d, want 2", got)
	}

	advance(time.Second)
	if !rl.Allow("192.168.1.1") {
		t.Error("IP1 should get a token back after one second")
	}
}

func TestRateLimiter_Prune(t *testing.T) {
	rl, advance := newTestLimiter(t, RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 3})
	rl.Allow("10.0.0.1")

	advance(10 * time.Minute)
	rl.prune()

	rl.mu.RLock()
	n := len(rl.buckets)
	rl.mu.RUnlock()
	if n != 0 {
		t.Errorf("buckets after prune = %d, want 0", n)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimiterConfig{
		RequestsPerMinute: 60,
		BurstSize:         2,
		Methods:           []string{http.MethodPost},
	})

	calls := 0
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	do := func(method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		w := do(http.MethodPost)
		if w.Code != http.StatusOK {
			t.Fatalf("POST %d: status %d, want 200", i+1, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "60" {
			t.Errorf("X-RateLimit-Limit = %q, want 60", got)
		}
	}
	if got := do(http.MethodPost).Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	w := do(http.MethodPost)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be present when rate limited")
	}
	if !strings.Contains(w.Body.String(), "Too many requests") {
		t.Errorf("body = %q", w.Body.String())
	}

	// GET is not limited
	if w := do(http.MethodGet); w.Code != http.StatusOK {
		t.Errorf("GET status %d, want 200", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("limited response should carry X-RateLimit-Limit")
	}
	if calls != 3 {
		t.Errorf("handler calls = %d, want 3", calls)
	}
}

func TestRateLimiter_IgnoresForwardedHeadersByDefault(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 1})

	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	if got := rl.clientIP(req); got != "192.168.1.1" {
		t.Errorf("clientIP = %q, want RemoteAddr IP", got)
	}

	rl.config.TrustProxy = true
	if got := rl.clientIP(req); got != "203.0.113.1" {
		t.Errorf("clientIP with TrustProxy = %q, want 203.0.113.1", got)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name         string
		remoteAddr   string
		forwardedFor string
		realIP       string
		expectedIP   string
	}{
		{
			name:       "RemoteAddr only",
			remoteAddr: "192.168.1.1:12345",
			expectedIP: "192.168.1.1",
		},
		{
			name:         "X-Forwarded-For header",
			remoteAddr:   "192.168.1.1:12345",
			forwardedFor: "203.0.113.1",
			expectedIP:   "203.0.113.1",
		},
		{
			name:       "X-Real-IP header",
			remoteAddr: "192.168.1.1:12345",
			realIP:     "203.0.113.2",
			expectedIP: "203.0.113.2",
		},
		{
			name:         "X-Forwarded-For with multiple IPs takes leftmost",
			remoteAddr:   "192.168.1.1:12345",
			forwardedFor: "  203.0.113.5  , 10.0.0.1, 172.16.0.1",
			expectedIP:   "203.0.113.5",
		},
		{
			name:         "Invalid X-Forwarded-For falls back to RemoteAddr",
			remoteAddr:   "192.168.1.1:12345",
			forwardedFor: "'; DROP TABLE users; --",
			expectedIP:   "192.168.1.1",
		},
		{
			name:         "IPv6 address",
			remoteAddr:   "[2001:db8::1]:12345",
			forwardedFor: "2001:db8::2",
			expectedIP:   "2001:db8::2",
		},
		{
			name:       "Garbage RemoteAddr",
			remoteAddr: "pipe",
			expectedIP: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.forwardedFor)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			if got := getClientIP(req); got != tt.expectedIP {
				t.Errorf("getClientIP() = %q, want %q", got, tt.expectedIP)
			}
		})
	}
}
