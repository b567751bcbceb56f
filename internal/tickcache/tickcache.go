// Package tickcache holds the latest tick per (segment, security_id) and
// falls back to a rate-limited REST lookup for LTP when the stream has no
// fresh entry. It stores already-built types.Tick values and does not parse
// or normalize raw source packets itself (the feed package builds the Tick);
// its only merge rule is that OI-only ticks update OI without touching the
// price fields. Safe for concurrent readers and writers.
package tickcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/pkg/errs"
	"dhan-scalper-sub003/pkg/types"
)

// LTPLookup is the external collaborator used as a fallback when no tick has
// been observed for an instrument; it is typically the broker's quote
// endpoint reached over resty.
type LTPLookup interface {
	LastTradedPrice(ctx context.Context, segment types.Segment, securityID string) (decimal.Decimal, error)
}

const defaultFallbackTTL = 30 * time.Second

// Cache is the in-memory latest-tick store. An optional Redis client can be
// layered underneath by callers wanting durability across restarts; Cache
// itself only guarantees the in-process hot-path contract from spec.md §4.1.
type Cache struct {
	mu     sync.RWMutex
	ticks  map[types.InstrumentKey]types.Tick
	lookup LTPLookup

	fallbackTTL time.Duration
	fallbackMu  sync.Mutex
	fallback    map[types.InstrumentKey]fallbackEntry
}

type fallbackEntry struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// New creates an empty tick cache. lookup may be nil if no REST fallback is
// configured (ltp(use_fallback=true) then simply returns ErrNoTick).
func New(lookup LTPLookup) *Cache {
	return &Cache{
		ticks:       make(map[types.InstrumentKey]types.Tick),
		lookup:      lookup,
		fallbackTTL: defaultFallbackTTL,
		fallback:    make(map[types.InstrumentKey]fallbackEntry),
	}
}

// WithFallbackTTL overrides the default 30s LTP fallback cache window.
func (c *Cache) WithFallbackTTL(d time.Duration) *Cache {
	c.fallbackTTL = d
	return c
}

// Put stores tick if it is newer than the currently stored entry for its
// key. Older timestamps are discarded (spec.md §3 monotonicity invariant).
// OI-only packets (Kind == "oi") update only the OI field, leaving price
// fields untouched.
func (c *Cache) Put(tick types.Tick) {
	key := tick.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.ticks[key]
	if !ok {
		c.ticks[key] = tick
		return
	}
	if tick.Timestamp.Before(existing.Timestamp) {
		return
	}
	if tick.Kind == "oi" {
		existing.OI = tick.OI
		existing.Timestamp = tick.Timestamp
		c.ticks[key] = existing
		return
	}
	c.ticks[key] = tick
}

// Get returns the stored tick for a key, if any.
func (c *Cache) Get(segment types.Segment, securityID string) (types.Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ticks[types.InstrumentKey{Segment: segment, SecurityID: securityID}]
	return t, ok
}

// LastPrice returns the last observed tick's LTP with no REST fallback,
// satisfying broker.PriceSource so PaperBroker can synthesize fills at the
// live tick price instead of always falling back to the order's own price.
func (c *Cache) LastPrice(segment types.Segment, securityID string) (decimal.Decimal, bool) {
	t, ok := c.Get(segment, securityID)
	if !ok {
		return decimal.Zero, false
	}
	return t.LTP, true
}

// All returns a snapshot copy of every tracked tick.
func (c *Cache) All() map[types.InstrumentKey]types.Tick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[types.InstrumentKey]types.Tick, len(c.ticks))
	for k, v := range c.ticks {
		out[k] = v
	}
	return out
}

// LTP returns the last traded price for an instrument. When no tick exists
// and useFallback is true, it consults the REST lookup collaborator,
// caching the result for fallbackTTL so repeated calls within the window do
// not re-invoke it.
func (c *Cache) LTP(ctx context.Context, segment types.Segment, securityID string, useFallback bool) (decimal.Decimal, error) {
	if t, ok := c.Get(segment, securityID); ok {
		return t.LTP, nil
	}
	if !useFallback || c.lookup == nil {
		return decimal.Zero, fmt.Errorf("%w: %s:%s", errs.ErrNoTick, segment, securityID)
	}

	key := types.InstrumentKey{Segment: segment, SecurityID: securityID}

	c.fallbackMu.Lock()
	if entry, ok := c.fallback[key]; ok && time.Since(entry.fetchedAt) < c.fallbackTTL {
		c.fallbackMu.Unlock()
		return entry.price, nil
	}
	c.fallbackMu.Unlock()

	price, err := c.lookup.LastTradedPrice(ctx, segment, securityID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ltp fallback lookup: %w", err)
	}

	c.fallbackMu.Lock()
	c.fallback[key] = fallbackEntry{price: price, fetchedAt: time.Now()}
	c.fallbackMu.Unlock()

	return price, nil
}
