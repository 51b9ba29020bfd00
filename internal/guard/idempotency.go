package guard

import (
	"context"
	"sync"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/jonboulle/clockwork"
)

// IdempotencyGuard deduplicates work by key. Keys expire after ttl so the
// set stays bounded on a long-running server; ttl <= 0 keeps keys forever.
type IdempotencyGuard struct {
	mu    sync.Mutex
	clock clockwork.Clock
	ttl   time.Duration
	seen  map[string]time.Time
}

// NewIdempotencyGuard creates a new in-memory idempotency guard.
func NewIdempotencyGuard(clock clockwork.Clock, ttl time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{
		clock: clock,
		ttl:   ttl,
		seen:  make(map[string]time.Time),
	}
}

// Check returns whether the given key has already been processed.
func (ig *IdempotencyGuard) Check(_ context.Context, key string) domain.GuardResult {
	if key == "" {
		return domain.GuardResult{Allowed: true}
	}

	ig.mu.Lock()
	defer ig.mu.Unlock()

	now := ig.clock.Now()
	ig.evictLocked(now)

	if _, ok := ig.seen[key]; ok {
		return domain.GuardResult{
			Allowed: false,
			Reason:  "duplicate request: idempotency key already processed",
			Guard:   "idempotency",
		}
	}

	ig.seen[key] = now
	return domain.GuardResult{Allowed: true}
}

// Remove deletes a key from the seen set (for retry scenarios).
func (ig *IdempotencyGuard) Remove(key string) {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	delete(ig.seen, key)
}

func (ig *IdempotencyGuard) evictLocked(now time.Time) {
	if ig.ttl <= 0 {
		return
	}
	for k, at := range ig.seen {
		if now.Sub(at) > ig.ttl {
			delete(ig.seen, k)
		}
	}
}
