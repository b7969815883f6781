package downloader

import (
	"sync"
	"time"
)

// Rate limit defaults: at most 10 admitted requests per rolling hour, per
// identity.
const (
	DefaultRateWindow = time.Hour
	DefaultRateMax    = 10
)

// RateLimiter applies sliding-window admission control per identity. Expired
// timestamps are pruned lazily on each admission check; a rejected check
// mutates nothing beyond that pruning.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	now     func() time.Time
	windows map[Identity][]time.Time
}

// NewRateLimiter returns a limiter admitting at most max requests per window
// for each identity. Non-positive arguments fall back to the defaults.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	if max <= 0 {
		max = DefaultRateMax
	}
	return &RateLimiter{
		window:  window,
		max:     max,
		now:     time.Now,
		windows: make(map[Identity][]time.Time),
	}
}

// Admit reports whether identity may proceed, recording the admission
// timestamp when it may. Safe for concurrent use; calls for the same
// identity serialize on the limiter's mutex, so a single identity cannot
// exceed the limit under concurrent submission.
func (l *RateLimiter) Admit(identity Identity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := l.windows[identity][:0]
	for _, ts := range l.windows[identity] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.max {
		l.windows[identity] = recent
		return false
	}

	l.windows[identity] = append(recent, now)
	return true
}
