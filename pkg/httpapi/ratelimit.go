package httpapi

import (
	"sync"
	"time"
)

// rateLimiter is a per-client token bucket guarding the public status
// endpoint. Single-process only; entries expire so the map stays bounded.
type rateLimiter struct {
	perMinute  int
	maxEntries int
	entryTTL   time.Duration

	mu sync.Mutex
	m  map[string]*clientBucket
}

type clientBucket struct {
	tokens   float64
	last     time.Time
	lastSeen time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		perMinute:  perMinute,
		maxEntries: 10_000,
		entryTTL:   30 * time.Minute,
		m:          make(map[string]*clientBucket),
	}
}

func (l *rateLimiter) allow(client string, now time.Time) bool {
	if l == nil || l.perMinute <= 0 {
		return true
	}
	if client == "" {
		client = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[client]
	if !ok {
		if len(l.m) >= l.maxEntries {
			l.evictLocked(now)
		}
		b = &clientBucket{tokens: float64(l.perMinute), last: now}
		l.m[client] = b
	}
	b.lastSeen = now

	rate := float64(l.perMinute) / 60.0
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * rate
		if b.tokens > float64(l.perMinute) {
			b.tokens = float64(l.perMinute)
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *rateLimiter) evictLocked(now time.Time) {
	for key, b := range l.m {
		if now.Sub(b.lastSeen) > l.entryTTL {
			delete(l.m, key)
		}
	}
}
