package router

import (
	"net/http"
	"sync"
	"time"

	"github.com/cuongbtq/media-fetch/internal/api/dto"
	"github.com/cuongbtq/media-fetch/internal/job"
	"github.com/cuongbtq/media-fetch/internal/metrics"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// kindRateLimited only exists at the HTTP edge, jobs never carry it
const kindRateLimited job.ErrorKind = "RateLimited"

// RateLimitConfig holds per-client token bucket settings
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration
}

// ipLimiter hands out one token bucket per client IP
type ipLimiter struct {
	config      RateLimitConfig
	mu          sync.Mutex
	perIP       map[string]*rate.Limiter
	lastCleanup time.Time
}

func newIPLimiter(config RateLimitConfig) *ipLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	return &ipLimiter{
		config:      config,
		perIP:       make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Dropping every bucket at once is enough to bound the map
	if time.Since(l.lastCleanup) >= l.config.CleanupInterval {
		l.perIP = make(map[string]*rate.Limiter)
		l.lastCleanup = time.Now()
	}

	limiter, ok := l.perIP[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)
		l.perIP[ip] = limiter
	}
	return limiter.Allow()
}

// RateLimitMiddleware rejects clients that exceed their token bucket with 429.
// A non-positive rate disables limiting.
func RateLimitMiddleware(config RateLimitConfig) gin.HandlerFunc {
	if config.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	limiter := newIPLimiter(config)
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			metrics.IncRateLimited()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				dto.NewErrorResponse(kindRateLimited, "rate limit exceeded"))
			return
		}
		c.Next()
	}
}
