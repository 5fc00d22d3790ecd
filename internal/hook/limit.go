package hook

import (
	"sync"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/samirkhoja/hookbin/internal/config"
)

const (
	maxTrackedLimiters = 4096
	limiterIdleTTL     = 10 * time.Minute
)

// limiterSet holds one token bucket per endpoint. A nil set allows everything.
type limiterSet struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
}

func newLimiterSet(cfg config.RateLimitConfig) *limiterSet {
	if cfg.PerEndpointRPS <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &limiterSet{
		limit:    rate.Limit(cfg.PerEndpointRPS),
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](maxTrackedLimiters, nil, limiterIdleTTL),
	}
}

func (l *limiterSet) allow(endpointID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters.Get(endpointID)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
	}
	// Re-adding refreshes the idle TTL.
	l.limiters.Add(endpointID, lim)
	l.mu.Unlock()
	return lim.Allow()
}
