// rate_limiter.go - Per-client rate limiting for message submission
package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// maxLimiters bounds the limiter map; beyond it idle entries are dropped.
const maxLimiters = 10000

// ClientRateLimiter manages a token bucket per client.
type ClientRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientRateLimiter allows perMinute requests per client with the given burst.
func NewClientRateLimiter(perMinute, burst int) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
	}
}

// Allow checks if a request from a client is allowed
func (rl *ClientRateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	cl, ok := rl.limiters[clientID]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.cleanupLocked(time.Now().Add(-10 * time.Minute))
		}
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[clientID] = cl
	}
	cl.lastSeen = time.Now()
	rl.mu.Unlock()

	return cl.limiter.Allow()
}

// Tokens returns the current number of available tokens for a client
func (rl *ClientRateLimiter) Tokens(clientID string) float64 {
	rl.mu.Lock()
	cl, ok := rl.limiters[clientID]
	rl.mu.Unlock()
	if !ok {
		return float64(rl.burst)
	}
	return cl.limiter.Tokens()
}

// Reset forgets the bucket for a client
func (rl *ClientRateLimiter) Reset(clientID string) {
	rl.mu.Lock()
	delete(rl.limiters, clientID)
	rl.mu.Unlock()
}

func (rl *ClientRateLimiter) cleanupLocked(cutoff time.Time) {
	for id, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, id)
		}
	}
}

// RateLimitMiddleware rejects clients that exceed their bucket.
func RateLimitMiddleware(rl *ClientRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please try again later.",
			})
			return
		}
		c.Next()
	}
}
