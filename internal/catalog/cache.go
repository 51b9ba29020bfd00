package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/guard"
	"github.com/jonboulle/clockwork"
)

const breakerKey = "card_catalog"

// CacheConfig tunes the catalog cache.
type CacheConfig struct {
	TTL           time.Duration
	LookupTimeout time.Duration
	FailThreshold int
	ResetTimeout  time.Duration
}

// Cache is a TTL cache of base card definitions in front of a Source. Lookups
// that miss go to the source with a short timeout behind a circuit breaker, so
// a slow catalog fails fast with a retryable error instead of stalling callers.
type Cache struct {
	source  Source
	clock   clockwork.Clock
	breaker *guard.CircuitBreaker
	cfg     CacheConfig
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	card      domain.CardStats
	expiresAt time.Time
}

// NewCache wraps source.
func NewCache(source Source, clock clockwork.Clock, cfg CacheConfig, logger *slog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 200 * time.Millisecond
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	return &Cache{
		source:  source,
		clock:   clock,
		breaker: guard.NewCircuitBreaker(clock, cfg.FailThreshold, cfg.ResetTimeout),
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]cacheEntry),
	}
}

// Warm loads every card from the source into the cache.
func (c *Cache) Warm(ctx context.Context) (int, error) {
	cards, err := c.source.All(ctx)
	if err != nil {
		return 0, domain.ErrCatalogUnavailable(err)
	}
	exp := c.clock.Now().Add(c.cfg.TTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, card := range cards {
		c.entries[domain.NormalizeCardID(card.ID)] = cacheEntry{card: card, expiresAt: exp}
	}
	return len(cards), nil
}

// Invalidate drops a single card.
func (c *Cache) Invalidate(cardID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, domain.NormalizeCardID(cardID))
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of cached cards, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetCardStats returns the card resolved at level.
func (c *Cache) GetCardStats(ctx context.Context, cardID string, level int) (domain.CardStats, error) {
	base, err := c.base(ctx, cardID)
	if err != nil {
		return domain.CardStats{}, err
	}
	return ScaleToLevel(base, level), nil
}

// ValidateDeck checks deck shape, that every card exists and that every card
// is unlocked at arenaID. A source outage is returned as an error, not as an
// invalid result.
func (c *Cache) ValidateDeck(ctx context.Context, cardIDs []string, arenaID int) (domain.ValidationResult, error) {
	resolved := make(map[string]domain.CardStats, len(cardIDs))
	if domain.ValidateDeckShape(cardIDs) == nil {
		for _, id := range cardIDs {
			card, err := c.base(ctx, id)
			switch {
			case err == nil:
				resolved[id] = card
			case errors.Is(err, domain.ErrCardNotFound("")):
			default:
				return domain.ValidationResult{}, err
			}
		}
	}
	return checkDeck(cardIDs, arenaID, func(id string) (domain.CardStats, bool) {
		card, ok := resolved[id]
		return card, ok
	}), nil
}

func (c *Cache) base(ctx context.Context, cardID string) (domain.CardStats, error) {
	cardID = domain.NormalizeCardID(cardID)
	now := c.clock.Now()

	c.mu.RLock()
	e, ok := c.entries[cardID]
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		return e.card, nil
	}

	if res := c.breaker.Check(ctx, breakerKey); !res.Allowed {
		return domain.CardStats{}, domain.ErrCatalogUnavailable(errors.New(res.Reason))
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	defer cancel()

	card, err := c.source.Card(lookupCtx, cardID)
	if err != nil {
		if errors.Is(err, domain.ErrCardNotFound("")) {
			c.breaker.RecordSuccess(breakerKey)
			return domain.CardStats{}, err
		}
		c.breaker.RecordFailure(breakerKey)
		c.logger.Warn("card catalog lookup failed", "card_id", cardID, "error", err)
		return domain.CardStats{}, domain.ErrCatalogUnavailable(err)
	}
	c.breaker.RecordSuccess(breakerKey)

	c.mu.Lock()
	c.entries[cardID] = cacheEntry{card: card, expiresAt: now.Add(c.cfg.TTL)}
	c.mu.Unlock()
	return card, nil
}
