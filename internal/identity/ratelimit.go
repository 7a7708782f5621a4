package identity

import (
	"fmt"
	"sync"
	"time"

	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
)

// Limiter applies a fixed sliding window per operation key: the first call
// in a window starts it, the counter resets when the window elapses. Calls
// beyond the maximum are rejected with ErrRateLimited rather than dropped.
type Limiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	entries map[string]*windowEntry
	now     func() time.Time
}

type windowEntry struct {
	count int
	start time.Time
}

// NewLimiter creates a limiter from rate-limit settings. A disabled config
// yields a limiter that always allows.
func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{
		max:     cfg.MaxCalls,
		window:  time.Duration(cfg.WindowSeconds) * time.Second,
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
	if !cfg.Enabled {
		l.max = 0
	}
	return l
}

// Allow consumes one call for key. It returns ErrRateLimited when the key
// has exhausted its window.
func (l *Limiter) Allow(key string) error {
	if l.max <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[key]
	if !ok {
		entry = &windowEntry{start: now}
		l.entries[key] = entry
	}
	if now.Sub(entry.start) > l.window {
		entry.count = 0
		entry.start = now
	}
	entry.count++
	if entry.count > l.max {
		return fmt.Errorf("%w: %s", ErrRateLimited, key)
	}
	return nil
}

// Reset clears the window for a key. Used after a successful sensitive
// operation so a legitimate user is not penalized for earlier failures.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}
