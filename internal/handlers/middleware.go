package handlers

import (
	"net/http"
	"sync"
	"time"

	"transformer_monitor/internal/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Idle per-client buckets are forgotten after this long.
const limiterIdleTTL = 3 * time.Minute

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter is a token bucket per client IP.
type rateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientBucket
	lastSweep time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*clientBucket),
	}
}

func (l *rateLimiter) allow(client string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, b := range l.clients {
			if now.Sub(b.lastSeen) > limiterIdleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *rateLimiter) middleware(m *metrics.HTTP) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			m.RateLimited()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// metricsMiddleware records every request under its route template.
func (h *Handler) metricsMiddleware(c *gin.Context) {
	if h.opts.Metrics == nil {
		c.Next()
		return
	}
	start := time.Now()
	c.Next()
	h.opts.Metrics.Observe(c.FullPath(), c.Writer.Status(), time.Since(start))
}
