// internal/api/middleware.go
package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Corphon/StoryReel/internal/utils"
)

const requestIDKey = "request_id"

// RequestID tags every request with an id, reusing X-Request-ID when the
// caller sent one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequestMetrics records status and latency of every API call.
func RequestMetrics(metrics *utils.PipelineMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordAPIRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// RateLimiter is a fixed-window request counter per key.
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	now      func() time.Time
}

// Visitor is the window state of one key.
type Visitor struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{visitors: make(map[string]*Visitor), now: time.Now}
}

// Allow consumes one request of key's window and reports whether it fit.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) (Visitor, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	// Expired windows are dropped lazily.
	for k, v := range rl.visitors {
		if now.After(v.Reset) {
			delete(rl.visitors, k)
		}
	}

	visitor, exists := rl.visitors[key]
	if !exists {
		visitor = &Visitor{Limit: limit, Remaining: limit, Reset: now.Add(window)}
		rl.visitors[key] = visitor
	}
	if visitor.Remaining <= 0 {
		return *visitor, false
	}
	visitor.Remaining--
	return *visitor, true
}

// RateLimitByIP limits each client address to limit requests per window.
func RateLimitByIP(rl *RateLimiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := rl.Allow(c.ClientIP(), limit, window)
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", v.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", v.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", v.Reset.Unix()))
		if !ok {
			NewResponseHelper().Error(c, http.StatusTooManyRequests, ErrorRateLimited, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// corsMiddleware allows the review UI to be served from another origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
