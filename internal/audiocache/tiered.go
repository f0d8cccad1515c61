package audiocache

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

// Tiered layers a fast store (usually memory) over a slow persistent one.
// Hits in the slow tier are promoted to the fast tier.
type Tiered struct {
	fast Store
	slow Store

	logger *log.Logger
}

// NewTiered returns a two-level store.
func NewTiered(fast, slow Store) *Tiered {
	return &Tiered{
		fast:   fast,
		slow:   slow,
		logger: log.WithPrefix("audiocache"),
	}
}

// Lookup checks the fast tier, then the slow one.
func (t *Tiered) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	if e, ok, err := t.fast.Lookup(ctx, key); err == nil && ok {
		return e, true, nil
	} else if err != nil {
		t.logger.Debug("fast tier lookup failed", "key", key, "error", err)
	}

	e, ok, err := t.slow.Lookup(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}

	if err := t.fast.Upsert(ctx, e); err != nil && !errors.Is(err, ErrItemTooLarge) {
		t.logger.Debug("promotion failed", "key", key, "error", err)
	}
	return e, true, nil
}

// Upsert writes through both tiers. Only a slow tier failure is reported:
// the fast tier is a cache of the cache.
func (t *Tiered) Upsert(ctx context.Context, e Entry) error {
	if err := t.fast.Upsert(ctx, e); err != nil && !errors.Is(err, ErrItemTooLarge) {
		t.logger.Debug("fast tier write failed", "key", e.Key, "error", err)
	}
	if err := t.slow.Upsert(ctx, e); err != nil {
		return fmt.Errorf("persistent tier: %w", err)
	}
	return nil
}

// Stats reports the persistent tier's counters when it tracks them.
func (t *Tiered) Stats() Stats {
	if r, ok := t.slow.(StatsReporter); ok {
		return r.Stats()
	}
	if r, ok := t.fast.(StatsReporter); ok {
		return r.Stats()
	}
	return Stats{Backend: "tiered"}
}

// Close closes any tier that holds resources.
func (t *Tiered) Close() error {
	var errs []error
	for _, s := range []Store{t.fast, t.slow} {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
