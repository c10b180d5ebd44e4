package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// recoveryMiddleware recovers a panicking handler and responds 500,
// following the teacher's recovery-middleware-plus-zap-logging
// convention rather than gin's default plain-text recovery.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.Log.Error("http handler panicked",
					zap.Any("recover", r), zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}

// loggingMiddleware logs every request's method, path, status, and
// latency via zap, matching the structured-field logging style used
// throughout the rest of the module.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// clientRateLimiter hands out one token-bucket limiter per client IP,
// grounded on the teacher's middleware.IPRateLimiter: a mutex-guarded map
// of *rate.Limiter, lazily populated, each bucket refilling at rate with
// the given burst.
type clientRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newClientRateLimiter(r rate.Limit, burst int) *clientRateLimiter {
	return &clientRateLimiter{limiters: make(map[string]*rate.Limiter), rate: r, burst: burst}
}

func (c *clientRateLimiter) get(ip string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[ip]
	if !ok {
		l = rate.NewLimiter(c.rate, c.burst)
		c.limiters[ip] = l
	}
	return l
}

// rateLimitMiddleware rejects requests past the per-client-IP budget with
// 429, protecting the control plane from a single runaway agent or client
// flooding the dispatch/message endpoints.
func (s *Server) rateLimitMiddleware(r rate.Limit, burst int) gin.HandlerFunc {
	limiter := newClientRateLimiter(r, burst)
	return func(c *gin.Context) {
		if !limiter.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
