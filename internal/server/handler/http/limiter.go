package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginLimiter throttles login starts per owner. Idle owners are forgotten
// after ttl.
type LoginLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*limBucket
}

type limBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLoginLimiter allows perSecond logins per owner with the given burst.
func NewLoginLimiter(perSecond float64, burst int, ttl time.Duration) *LoginLimiter {
	return &LoginLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*limBucket),
	}
}

// Allow reports whether owner may start another login now.
func (l *LoginLimiter) Allow(owner string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.entries[owner]
	if b == nil {
		b = &limBucket{lim: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
		l.entries[owner] = b
	}
	b.lastSeen = now

	for k, v := range l.entries {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.entries, k)
		}
	}
	return b.lim.AllowN(now, 1)
}
