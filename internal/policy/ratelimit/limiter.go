// Package ratelimit implements a per-client token bucket used to admit render
// requests.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/naoTimesdev/naotimes-og/internal/telemetry"
)

// UnknownClient is the key for requests without a public client address.
const UnknownClient = "unknown"

// Limiter manages per-client rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*entry
	defaultRate  rate.Limit
	defaultBurst int
	now          func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained rate per client. Zero or less disables limiting.
	RPS   float64
	Burst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*entry),
		defaultRate:  r,
		defaultBurst: burst,
		now:          time.Now,
	}
}

// Enabled reports whether l limits anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.defaultRate != rate.Inf
}

// Allow consumes a token for client and reports whether the request may
// proceed. It never blocks.
func (l *Limiter) Allow(client string) bool {
	if !l.Enabled() {
		return true
	}
	if client == "" {
		client = UnknownClient
	}
	now := l.now()

	l.mu.Lock()
	e, exists := l.limiters[client]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst)}
		l.limiters[client] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	if !e.limiter.AllowN(now, 1) {
		telemetry.ObserveRateLimitRejection()
		return false
	}
	return true
}

// Prune drops clients idle for longer than idle and returns how many were
// removed.
func (l *Limiter) Prune(idle time.Duration) int {
	if l == nil {
		return 0
	}
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
