// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory token-bucket rate limiter with per-client
// buckets and opportunistic cleanup of idle buckets. It is process-local:
// for horizontally scaled deployments a distributed limiter would be needed
// to enforce global limits.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// bucket pairs a limiter with its last use, for idle eviction.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands each client IP its own token bucket.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket

	// idleAfter is how long an untouched bucket survives before cleanup.
	idleAfter time.Duration
	lastSweep time.Time
}

// NewRateLimiter constructs a limiter allowing rps requests per second with
// the given burst per client.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		buckets:   make(map[string]*bucket),
		idleAfter: 10 * time.Minute,
		lastSweep: time.Now(),
	}
}

// Handler returns the Gin middleware enforcing the limit. Rejected requests
// get a 429 with a Retry-After of one second.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow("ip:" + c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "too_many_requests",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// allow consumes one token for key, creating the bucket on first sight and
// sweeping idle buckets at most once per idleAfter interval.
func (rl *RateLimiter) allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	if now.Sub(rl.lastSweep) > rl.idleAfter {
		for k, v := range rl.buckets {
			if now.Sub(v.lastSeen) > rl.idleAfter {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}
	rl.mu.Unlock()

	return b.limiter.Allow()
}
