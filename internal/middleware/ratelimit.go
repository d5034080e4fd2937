package middleware

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterConfig holds configuration for the per-client limiter.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	CleanupInterval   time.Duration
}

// DefaultRateLimiterConfig suits the operator API: short bursts while a
// bracket is being set up, a trickle the rest of the night.
var DefaultRateLimiterConfig = RateLimiterConfig{
	RequestsPerSecond: 10.0,
	BurstSize:         20,
	CleanupInterval:   5 * time.Minute,
}

// clientLimiter tracks a token bucket and when it was last used.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client and drops buckets that
// have gone quiet so memory stays bounded.
type RateLimiter struct {
	limiters    map[string]*clientLimiter
	mu          sync.Mutex
	config      RateLimiterConfig
	stopCleanup chan struct{}
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		limiters:    make(map[string]*clientLimiter),
		config:      config,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether one more request from the client fits its budget.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, exists := rl.limiters[clientID]
	if !exists {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
		}
		rl.limiters[clientID] = cl
	}
	cl.lastSeen = time.Now()

	return cl.limiter.Allow()
}

// LimiterCount returns the number of live buckets, for monitoring.
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.config.CleanupInterval)
	removed := 0
	for clientID, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, clientID)
			removed++
		}
	}

	if removed > 0 {
		log.Printf("[RATELIMIT] Cleaned up %d inactive rate limiters", removed)
	}
}

// Stop ends the cleanup goroutine. Existing buckets keep working.
func (rl *RateLimiter) Stop() {
	close(rl.stopCleanup)
}

// Middleware enforces the limit per client IP on gin routes.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.ClientIP()
		if !rl.Allow(clientID) {
			log.Printf("[RATELIMIT] Rate limit exceeded for client: %s", clientID)
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// BridgeFrameLimiter bounds inbound frames per bridge connection so one
// misbehaving bridge cannot starve the gateway.
type BridgeFrameLimiter struct {
	*RateLimiter
}

func NewBridgeFrameLimiter() *BridgeFrameLimiter {
	return &BridgeFrameLimiter{
		RateLimiter: NewRateLimiter(RateLimiterConfig{
			RequestsPerSecond: 20.0,
			BurstSize:         60,
			CleanupInterval:   5 * time.Minute,
		}),
	}
}

// AllowFrame checks one inbound frame from the guild's bridge.
func (bl *BridgeFrameLimiter) AllowFrame(guildID string) bool {
	allowed := bl.Allow(guildID)
	if !allowed {
		log.Printf("[RATELIMIT] Frame limit exceeded for bridge: %s", guildID)
	}
	return allowed
}
