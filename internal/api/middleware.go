// Package api implements the REST API server that exposes an RCON client
// and its command templates over HTTP.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RequireToken rejects requests whose bearer token does not match token.
// An empty token disables the check.
func RequireToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}

		got := extractBearerToken(c.GetHeader("Authorization"))
		switch {
		case got == "":
			abortJSON(c, http.StatusUnauthorized, "missing or invalid authorization header")
		case subtle.ConstantTimeCompare([]byte(got), want) != 1:
			abortJSON(c, http.StatusUnauthorized, "invalid token")
		default:
			c.Next()
		}
	}
}

// bucketIdle is how long a client bucket may sit unused before Allow drops it.
const bucketIdle = 10 * time.Minute

// RateLimiter is a per-key token bucket. Buckets refill at rate tokens per
// second up to twice the rate.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64
	burst     float64
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per key.
// A rate of zero or less disables limiting.
func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    float64(rps),
		burst:   float64(rps * 2),
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket and reports whether one was left.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.rate <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, seen: now}
		rl.buckets[key] = b
	}

	b.tokens = min(rl.burst, b.tokens+now.Sub(b.seen).Seconds()*rl.rate)
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops idle buckets at most once per bucketIdle. Callers hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < bucketIdle {
		return
	}
	rl.lastSweep = now
	for key, b := range rl.buckets {
		if now.Sub(b.seen) >= bucketIdle {
			delete(rl.buckets, key)
		}
	}
}

// Middleware limits requests by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			abortJSON(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Server", "rconsole")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Next()
	}
}

// RequestLogger logs incoming HTTP requests at debug level.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}

func abortJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
