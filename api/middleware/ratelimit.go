package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pricewatch/config"
	"github.com/use-agent/pricewatch/models"
	"golang.org/x/time/rate"
)

const (
	limiterIdle  = time.Hour
	limiterSweep = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out one token bucket per identity.
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*limiterEntry
}

func newLimiterSet(cfg config.RateLimitConfig) *limiterSet {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &limiterSet{
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
	}
}

func (s *limiterSet) get(identity string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.limiters[identity]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[identity] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (s *limiterSet) evict(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(s.limiters, id)
		}
	}
}

func (s *limiterSet) sweep(ctx context.Context) {
	ticker := time.NewTicker(limiterSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.evict(now.Add(-limiterIdle))
		}
	}
}

// RateLimit returns per-identity token-bucket rate limiting middleware.
// The identity is the API key set by Auth, or the client IP.
//
// Idle buckets are swept every few minutes until ctx is done. A
// non-positive rate disables limiting.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	set := newLimiterSet(cfg)
	go set.sweep(ctx)

	return func(c *gin.Context) {
		identity := c.GetString(IdentityKey)
		if identity == "" {
			identity = c.ClientIP()
		}

		now := time.Now()
		res := set.get(identity, now).ReserveN(now, 1)
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			abort(c, http.StatusTooManyRequests, models.ErrCodeRateLimited, "rate limit exceeded, please slow down")
			return
		}

		c.Next()
	}
}
