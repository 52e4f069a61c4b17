// Package lockout throttles repeated failed logins per username. After the
// configured number of consecutive failures the identifier is locked for a
// cooldown period, during which login attempts are rejected before any
// password hashing runs.
package lockout

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	failures    int
	lockedUntil time.Time
}

// Limiter tracks consecutive login failures in memory.
type Limiter struct {
	mu          sync.Mutex
	entries     map[string]*entry
	maxFailures int
	cooldown    time.Duration
}

// New constructs a Limiter locking after maxFailures consecutive failures
// for cooldown.
func New(maxFailures int, cooldown time.Duration) *Limiter {
	return &Limiter{
		entries:     make(map[string]*entry),
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

// IsLocked reports whether identifier is currently locked out, and until
// when. An expired lock is cleared as a side effect.
func (l *Limiter) IsLocked(_ context.Context, identifier string, now time.Time) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[identifier]
	if !ok {
		return false, time.Time{}
	}
	if e.lockedUntil.IsZero() {
		return false, time.Time{}
	}
	if now.After(e.lockedUntil) {
		delete(l.entries, identifier)
		return false, time.Time{}
	}
	return true, e.lockedUntil
}

// RecordFailure registers a failed attempt and reports whether the
// identifier just became locked.
func (l *Limiter) RecordFailure(_ context.Context, identifier string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[identifier]
	if !ok {
		e = &entry{}
		l.entries[identifier] = e
	}
	e.failures++
	if e.failures >= l.maxFailures {
		e.lockedUntil = now.Add(l.cooldown)
		return true
	}
	return false
}

// Clear resets the failure count after a successful login.
func (l *Limiter) Clear(_ context.Context, identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, identifier)
}
