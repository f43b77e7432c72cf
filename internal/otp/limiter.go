package otp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyedLimiter throttles challenge issuance per principal so a compromised
// primary credential cannot be used to spray codes.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newKeyedLimiter(perMinute int) *keyedLimiter {
	if perMinute <= 0 {
		perMinute = 3
	}
	return &keyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

func (l *keyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
