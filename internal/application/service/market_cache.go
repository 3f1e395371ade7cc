package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"marketdata/internal/domain/model"
	"marketdata/internal/domain/port"
)

const defaultRefreshTimeout = 10 * time.Second

// maxClockSkew is how far ahead of the cache clock a price timestamp may be.
// Later timestamps are clamped to now.
const maxClockSkew = 30 * time.Second

// RefreshFunc fetches a new version of the market from upstream.
type RefreshFunc func(ctx context.Context) (model.Market, error)

// MarketCache keeps the last known version of every market. At most one
// refresh per key is in flight at a time.
type MarketCache struct {
	mu      sync.RWMutex
	markets map[model.MarketID]model.Market
	group   singleflight.Group

	backing        port.CachePort
	refreshTimeout time.Duration
	now            func() time.Time
	metrics        CacheMetrics
	logger         *slog.Logger
}

// CacheMetrics counts cache outcomes.
type CacheMetrics interface {
	CacheHit()
	Refresh()
	RefreshFailed()
	StaleServed()
}

type nopCacheMetrics struct{}

func (nopCacheMetrics) CacheHit()      {}
func (nopCacheMetrics) Refresh()       {}
func (nopCacheMetrics) RefreshFailed() {}
func (nopCacheMetrics) StaleServed()   {}

type CacheOption func(*MarketCache)

// WithBacking makes the cache write through to an external store and consult
// it before calling upstream.
func WithBacking(backing port.CachePort) CacheOption {
	return func(c *MarketCache) { c.backing = backing }
}

// WithRefreshTimeout bounds every upstream refresh so waiters always resolve.
func WithRefreshTimeout(d time.Duration) CacheOption {
	return func(c *MarketCache) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *MarketCache) { c.now = now }
}

func WithMetrics(m CacheMetrics) CacheOption {
	return func(c *MarketCache) {
		if m != nil {
			c.metrics = m
		}
	}
}

func NewMarketCache(logger *slog.Logger, opts ...CacheOption) *MarketCache {
	c := &MarketCache{
		markets:        make(map[model.MarketID]model.Market),
		refreshTimeout: defaultRefreshTimeout,
		now:            time.Now,
		metrics:        nopCacheMetrics{},
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached entry without any I/O.
func (c *MarketCache) Get(id model.MarketID) (model.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[id]
	return m, ok
}

// Set stores a pushed market. Markets whose price is older than the cached
// one are ignored; Set reports whether the entry was replaced.
func (c *MarketCache) Set(ctx context.Context, market model.Market) bool {
	stored, ok := c.store(market)
	if !ok {
		return false
	}
	c.writeThrough(ctx, stored)
	return true
}

// GetOrRefresh returns the cached market if it is fresh. Otherwise it runs
// refresh once for all concurrent callers of the same id. If the refresh
// fails, stale data is served when present.
//
// The refresh runs detached from ctx: a caller that gives up does not cancel
// it for the other waiters.
func (c *MarketCache) GetOrRefresh(ctx context.Context, id model.MarketID, refresh RefreshFunc) (model.Market, error) {
	if m, ok := c.Get(id); ok && !m.IsOutdatedAt(c.now()) {
		c.metrics.CacheHit()
		return m, nil
	}

	ch := c.group.DoChan(id, func() (interface{}, error) {
		return c.refresh(id, refresh)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return model.Market{}, res.Err
		}
		return res.Val.(model.Market), nil
	case <-ctx.Done():
		return model.Market{}, ctx.Err()
	}
}

// Warm loads markets from the external store into memory.
func (c *MarketCache) Warm(ctx context.Context, ids []model.MarketID) int {
	if c.backing == nil {
		return 0
	}

	loaded := 0
	for _, id := range ids {
		m, err := c.backing.GetMarket(ctx, id)
		if err != nil {
			c.logger.Warn("market cache: warm-up read failed", "market", id, "error", err)
			continue
		}
		if m == nil {
			continue
		}
		if _, ok := c.store(*m); ok {
			loaded++
		}
	}
	c.logger.Info("market cache warmed", "requested", len(ids), "loaded", loaded)
	return loaded
}

func (c *MarketCache) refresh(id model.MarketID, refresh RefreshFunc) (model.Market, error) {
	// A flight that finished just before this one may already have stored a
	// fresh entry.
	stale, hasStale := c.Get(id)
	if hasStale && !stale.IsOutdatedAt(c.now()) {
		return stale, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()

	if m, ok := c.fromBacking(ctx, id); ok {
		return m, nil
	}

	start := c.now()
	c.metrics.Refresh()
	fetched, err := refresh(ctx)
	if err != nil {
		c.metrics.RefreshFailed()
		if hasStale {
			c.metrics.StaleServed()
			c.logger.Warn("market cache: refresh failed, serving stale price",
				"market", id, "error", err)
			return stale, nil
		}
		c.logger.Error("market cache: refresh failed", "market", id, "error", err)
		return model.Market{}, &model.RefreshFailedError{MarketID: id, Err: err}
	}

	stored, ok := c.store(fetched)
	if !ok {
		// a newer tick was pushed while the refresh was in flight
		current, _ := c.Get(id)
		return current, nil
	}
	c.writeThrough(ctx, stored)
	c.logger.Debug("market cache: refreshed", "market", id, "duration", c.now().Sub(start))
	return stored, nil
}

func (c *MarketCache) fromBacking(ctx context.Context, id model.MarketID) (model.Market, bool) {
	if c.backing == nil {
		return model.Market{}, false
	}

	m, err := c.backing.GetMarket(ctx, id)
	if err != nil {
		c.logger.Warn("market cache: external read failed", "market", id, "error", err)
		return model.Market{}, false
	}
	if m == nil || m.IsOutdatedAt(c.now()) {
		return model.Market{}, false
	}

	stored, ok := c.store(*m)
	if !ok {
		current, _ := c.Get(id)
		return current, true
	}
	return stored, true
}

// store saves market unless the cached entry is newer and returns what was
// saved. A price dated past now+maxClockSkew is restamped with now, otherwise
// it would stay fresh for too long and shadow every real tick after it.
func (c *MarketCache) store(market model.Market) (model.Market, bool) {
	now := c.now()
	if p, ok := market.Price(); ok && p.Timestamp.After(now.Add(maxClockSkew)) {
		c.logger.Warn("market cache: price timestamp in the future, clamping",
			"market", market.ID, "timestamp", p.Timestamp, "now", now)
		market = market.WithPrice(model.NewPrice(p.Value, now))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.markets[market.ID]; ok && isOlder(market, current) {
		return model.Market{}, false
	}
	c.markets[market.ID] = market
	return market, true
}

func (c *MarketCache) writeThrough(ctx context.Context, market model.Market) {
	if c.backing == nil {
		return
	}
	if err := c.backing.SetMarket(ctx, market); err != nil {
		c.logger.Warn("market cache: external write failed", "market", market.ID, "error", err)
	}
}

func isOlder(next, current model.Market) bool {
	cur, ok := current.Price()
	if !ok {
		return false
	}
	p, ok := next.Price()
	if !ok {
		return true
	}
	return p.Timestamp.Before(cur.Timestamp)
}
