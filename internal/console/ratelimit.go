package console

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// keyedLimiter hands out one token bucket per client key.
type keyedLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newKeyedLimiter(perSecond float64) *keyedLimiter {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &keyedLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether key may proceed now. A non-positive rate disables
// limiting.
func (k *keyedLimiter) Allow(key string) bool {
	if k.limit <= 0 {
		return true
	}
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.limit, k.burst)
		k.limiters[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}

// clientKey identifies the caller. RemoteAddr has already been rewritten by
// middleware.RealIP.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
