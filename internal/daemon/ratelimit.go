package daemon

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// cleanupIdleDuration bounds how long a bucket survives past its last hit
// before the cleanup loop reclaims it, so a one-off caller (or a sender's
// subdirectory that finished its round and will never be polled again)
// doesn't grow the map without bound.
const cleanupIdleDuration = 10 * time.Minute

type ipBucket struct {
	tokens   float64
	lastSeen time.Time
	mu       sync.Mutex
}

// RateLimiter is a token bucket keyed per caller. Two scopes share the same
// implementation: an IP-keyed scope for the session-listing endpoint, and a
// subdirectory-keyed scope for a single session's status endpoint, so
// polling one sender's session doesn't consume another's quota. A session's
// own long-poll cadence (spec §5: "proposal long-poll 5s between attempts")
// is the floor this limiter is sized against — an operator dashboard has no
// reason to refresh a single session faster than the protocol itself does.
type RateLimiter struct {
	rate    float64 // tokens added per second
	burst   float64 // max bucket capacity
	keyFunc func(*gin.Context) string
	mu      sync.Mutex
	buckets map[string]*ipBucket
}

// byClientIP keys the bucket on the caller's address, the scope that fits
// an endpoint with no single-session identity (e.g. listing every session).
func byClientIP(c *gin.Context) string { return c.ClientIP() }

// bySubdirectory keys the bucket on the `:subdir` route param, so repeated
// polling of one session's status can't starve another session's quota and
// vice versa (spec §4.5/§5's sessions "share no mutable state").
func bySubdirectory(c *gin.Context) string { return c.Param("subdir") }

// NewRateLimiter creates a rate limiter allowing ratePerMin requests per
// minute per key, with burst capacity burst, keyed by keyFunc.
func NewRateLimiter(ratePerMin, burst int, keyFunc func(*gin.Context) string) *RateLimiter {
	rl := &RateLimiter{
		rate:    float64(ratePerMin) / 60.0,
		burst:   float64(burst),
		keyFunc: keyFunc,
		buckets: make(map[string]*ipBucket),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &ipBucket{tokens: rl.burst}
		rl.buckets[key] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(bucket.lastSeen).Seconds()
	bucket.tokens += elapsed * rl.rate
	if bucket.tokens > rl.burst {
		bucket.tokens = rl.burst
	}
	bucket.lastSeen = now

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		return true, 0
	}

	retryAfter := time.Duration((1.0-bucket.tokens)/rl.rate*1000) * time.Millisecond
	return false, retryAfter
}

// Middleware returns a Gin handler enforcing the rate limit, keyed by
// whatever scope the limiter was constructed with.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.keyFunc(c)
		allowed, retryAfter := rl.allow(key)
		if !allowed {
			c.Header("Retry-After", retryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"retryAfter": retryAfter.String(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cleanupIdleDuration)
		rl.mu.Lock()
		for key, b := range rl.buckets {
			b.mu.Lock()
			idle := b.lastSeen.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}
