package guard

import (
	"context"
	"sync"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/jonboulle/clockwork"
)

const (
	MaxAttempts   = 5
	LockoutWindow = 15 * time.Minute
)

// Lockout blocks a key (remote address) after MaxAttempts failed connection
// handshakes inside LockoutWindow.
type Lockout struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	failures map[string][]time.Time
}

func NewLockout(clock clockwork.Clock) *Lockout {
	return &Lockout{clock: clock, failures: make(map[string][]time.Time)}
}

// RecordAttempt records a handshake outcome. Success clears the history.
func (l *Lockout) RecordAttempt(key string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if success {
		delete(l.failures, key)
		return
	}
	l.failures[key] = append(l.recentLocked(key), l.clock.Now())
}

// CheckLocked returns a rate-limited error when key has too many recent failures.
func (l *Lockout) CheckLocked(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.recentLocked(key)
	if len(recent) == 0 {
		delete(l.failures, key)
		return nil
	}
	l.failures[key] = recent
	if len(recent) >= MaxAttempts {
		return domain.ErrRateLimited("too many failed connection attempts, try again later")
	}
	return nil
}

func (l *Lockout) recentLocked(key string) []time.Time {
	cutoff := l.clock.Now().Add(-LockoutWindow)
	entries := l.failures[key]
	valid := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
