package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the rate limiting middleware.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate allowed per key.
	RequestsPerSecond float64
	// Burst is the number of requests allowed above the sustained rate.
	Burst int
	// KeyFunc extracts the rate limit key from a request. Defaults to client IP.
	KeyFunc func(*gin.Context) string
	// IdleTTL drops the limiter of a key unused this long. Defaults to 5m.
	IdleTTL time.Duration
}

// RateLimit returns a Gin middleware applying a token bucket per key.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = IPBasedKey
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}

	rl := &limiters{
		cfg:     cfg,
		entries: make(map[string]*limiterEntry),
	}

	return func(c *gin.Context) {
		if !rl.get(cfg.KeyFunc(c), time.Now()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// IPBasedKey extracts the client IP for use as a rate limit key.
func IPBasedKey(c *gin.Context) string {
	return c.ClientIP()
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiters struct {
	cfg RateLimitConfig

	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func (l *limiters) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.cfg.IdleTTL {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > l.cfg.IdleTTL {
				delete(l.entries, k)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}
