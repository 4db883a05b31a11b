package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FocuswithJustin/parseweb/internal/logging"
)

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	RequestsPerMinute int
	BurstSize         int

	// Methods limits which request methods consume tokens. Empty means all.
	Methods []string

	// TrustProxy makes X-Forwarded-For and X-Real-IP count as the client
	// address. Leave it off unless a reverse proxy sets those headers.
	TrustProxy bool
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens         float64
	capacity       float64
	refillRate     float64 // tokens per second
	lastRefillTime time.Time
	mu             sync.Mutex
}

// newTokenBucket creates a new token bucket with the given capacity and refill rate.
func newTokenBucket(capacity, refillRate float64, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:         capacity,
		capacity:       capacity,
		refillRate:     refillRate,
		lastRefillTime: now,
	}
}

// refill brings the token count up to date. Caller holds tb.mu.
func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefillTime).Seconds()
	tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefillTime = now
}

// allow takes a token if one is available.
func (tb *tokenBucket) allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	if tb.tokens >= 1.0 {
		tb.tokens--
		return true
	}
	return false
}

// remaining returns the number of tokens remaining.
func (tb *tokenBucket) remaining(now time.Time) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	return int(tb.tokens)
}

// reset returns the time when the bucket will be full again.
func (tb *tokenBucket) reset(now time.Time) time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	if tb.tokens >= tb.capacity || tb.refillRate <= 0 {
		return now
	}

	secondsUntilFull := (tb.capacity - tb.tokens) / tb.refillRate
	return now.Add(time.Duration(secondsUntilFull * float64(time.Second)))
}

func (tb *tokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastRefillTime
}

// RateLimiter manages per-IP rate limiting.
type RateLimiter struct {
	buckets    map[string]*tokenBucket
	config     RateLimiterConfig
	mu         sync.RWMutex
	cleanupTTL time.Duration
	now        func() time.Time
	done       chan struct{}
	closeOnce  sync.Once
}

// NewRateLimiter creates a new rate limiter and starts its cleanup
// goroutine. Call Close to stop it.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.BurstSize <= 0 {
		config.BurstSize = max(1, config.RequestsPerMinute)
	}
	rl := &RateLimiter{
		buckets:    make(map[string]*tokenBucket),
		config:     config,
		cleanupTTL: 5 * time.Minute,
		now:        time.Now,
		done:       make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.done) })
}

// getBucket returns the token bucket for a given IP, creating if necessary.
func (rl *RateLimiter) getBucket(ip string) *tokenBucket {
	rl.mu.RLock()
	bucket, exists := rl.buckets[ip]
	rl.mu.RUnlock()

	if exists {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if bucket, exists := rl.buckets[ip]; exists {
		return bucket
	}

	// Convert requests per minute to tokens per second
	refillRate := float64(rl.config.RequestsPerMinute) / 60.0
	bucket = newTokenBucket(float64(rl.config.BurstSize), refillRate, rl.now())
	rl.buckets[ip] = bucket

	return bucket
}

// cleanup periodically removes stale buckets.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.prune()
		}
	}
}

// prune removes buckets that have been idle for longer than the TTL.
func (rl *RateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, bucket := range rl.buckets {
		if now.Sub(bucket.idleSince()) > rl.cleanupTTL {
			delete(rl.buckets, ip)
		}
	}
}

// Allow checks if a request from the given IP should be allowed.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.getBucket(ip).allow(rl.now())
}

// Remaining returns the number of remaining requests for the given IP.
func (rl *RateLimiter) Remaining(ip string) int {
	return rl.getBucket(ip).remaining(rl.now())
}

// Reset returns the reset time for the given IP.
func (rl *RateLimiter) Reset(ip string) time.Time {
	return rl.getBucket(ip).reset(rl.now())
}

func (rl *RateLimiter) limits(method string) bool {
	if len(rl.config.Methods) == 0 {
		return true
	}
	for _, m := range rl.config.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Middleware returns an HTTP middleware that applies rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limits(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		ip := rl.clientIP(r)
		bucket := rl.getBucket(ip)
		now := rl.now()
		allowed := bucket.allow(now)
		reset := bucket.reset(now)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(bucket.remaining(now)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if !allowed {
			retryAfter := int(reset.Sub(now).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			logging.SecurityEvent("rate_limit_exceeded", "server", "client_ip", ip, "path", r.URL.Path)
			http.Error(w, "Too many requests. Try again in "+strconv.Itoa(retryAfter)+" seconds.", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) clientIP(r *http.Request) string {
	if rl.config.TrustProxy {
		return getClientIP(r)
	}
	return remoteIP(r)
}

// getClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For and X-Real-IP headers before falling back to RemoteAddr.
// Header values are validated as IP addresses before use.
func getClientIP(r *http.Request) string {
	// Format: X-Forwarded-For: client, proxy1, proxy2
	// Take the leftmost (client) IP and validate it
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		clientIP, _, _ := strings.Cut(forwarded, ",")
		clientIP = strings.TrimSpace(clientIP)
		if isValidIP(clientIP) {
			return clientIP
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" && isValidIP(realIP) {
		return realIP
	}

	return remoteIP(r)
}

// remoteIP returns the IP part of RemoteAddr, or "unknown".
func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port
		ip = r.RemoteAddr
	}
	if isValidIP(ip) {
		return ip
	}
	return "unknown"
}

// isValidIP checks if a string is a valid IPv4 or IPv6 address.
func isValidIP(ipStr string) bool {
	return net.ParseIP(ipStr) != nil
}
