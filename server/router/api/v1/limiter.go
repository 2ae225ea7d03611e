package v1

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// callerLimiter rate-limits turns per caller key. Idle entries are
// dropped lazily so the map does not grow without bound.
type callerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCallerLimiter(perMinute int, burst int) *callerLimiter {
	return &callerLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

// Allow reports whether the caller may start another turn now.
func (l *callerLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = time.Now()

	if len(l.limiters) > 4096 {
		l.evictIdleLocked()
	}
	return entry.limiter.Allow()
}

func (l *callerLimiter) evictIdleLocked() {
	cutoff := time.Now().Add(-time.Hour)
	for key, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}
