package api

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const maxTrackedClients = 4096

// ClientLimiter keeps one token bucket per client. The least recently seen
// clients are evicted once maxTrackedClients is reached.
type ClientLimiter struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *rate.Limiter]
	limit rate.Limit
	burst int
}

// NewClientLimiter returns nil when perSecond is 0.
func NewClientLimiter(perSecond float64, burst int) *ClientLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	c, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	return &ClientLimiter{cache: c, limit: rate.Limit(perSecond), burst: burst}
}

func (l *ClientLimiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.cache.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.cache.Add(key, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Len reports how many clients are tracked.
func (l *ClientLimiter) Len() int {
	return l.cache.Len()
}
