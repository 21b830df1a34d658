package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter throttles room creation and joins per client address.
type rateLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{perMin: perMinute, limiters: make(map[string]*limiterEntry)}
}

// Allow reports whether key may act now. A non-positive rate disables the
// limit.
func (l *rateLimiter) Allow(key string, now time.Time) bool {
	if l == nil || l.perMin <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	if len(l.limiters) > 1024 {
		l.pruneLocked(now.Add(-10 * time.Minute))
	}
	return entry.limiter.AllowN(now, 1)
}

func (l *rateLimiter) pruneLocked(cutoff time.Time) {
	for key, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}
