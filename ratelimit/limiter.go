// Package ratelimit throttles WebSocket handshakes per identity with a
// token bucket.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per identity.
type Limiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	lim  *rate.Limiter
	last time.Time
}

// New creates a limiter allowing perSecond handshakes per identity, with a
// burst of the same size. A perSecond of 0 or less means unlimited.
func New(perSecond int) *Limiter {
	return &Limiter{
		limit:   rate.Limit(perSecond),
		burst:   perSecond,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Allow reports whether identity may open another connection now.
func (l *Limiter) Allow(identity string) bool {
	if l == nil || l.burst <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[identity]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.entries[identity] = e
	}
	e.last = now
	return e.lim.AllowN(now, 1)
}

// Prune drops buckets unused for longer than idle. An idle bucket has
// refilled, so dropping it does not change any decision.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	n := 0
	for identity, e := range l.entries {
		if e.last.Before(cutoff) {
			delete(l.entries, identity)
			n++
		}
	}
	return n
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
