package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketdata/internal/domain/model"
)

var (
	fixedNow = time.Date(2024, 3, 10, 10, 4, 0, 0, time.UTC)
	btc      = model.NewCrypto("bitcoin")
	usd      = model.NewFiat("usd", "USD")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clock() time.Time { return fixedNow }

func btcusd(p *model.Price) model.Market {
	return model.NewMarket("btcusd", btc, usd, p)
}

func pricedAt(v float64, ts time.Time) *model.Price {
	p := model.NewPrice(v, ts)
	return &p
}

type memCache struct {
	mu      sync.Mutex
	markets map[string]model.Market
	ticks   []model.PriceUpdate
	getErr  error
	sets    int
}

func newMemCache() *memCache {
	return &memCache{markets: make(map[string]model.Market)}
}

func (c *memCache) GetMarket(_ context.Context, id model.MarketID) (*model.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	m, ok := c.markets[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (c *memCache) SetMarket(_ context.Context, m model.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m
	c.sets++
	return nil
}

func (c *memCache) AddTick(_ context.Context, t model.PriceUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = append(c.ticks, t)
	return nil
}

func (c *memCache) GetTicks(_ context.Context, id model.MarketID, from, to time.Time) ([]model.PriceUpdate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.PriceUpdate
	for _, t := range c.ticks {
		if t.MarketID == id && !t.Timestamp.Before(from) && t.Timestamp.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *memCache) DeleteOldTicks(_ context.Context, before time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.ticks[:0]
	for _, t := range c.ticks {
		if !t.Timestamp.Before(before) {
			kept = append(kept, t)
		}
	}
	c.ticks = kept
	return nil
}

func (c *memCache) Ping(context.Context) error { return nil }
func (c *memCache) Close() error               { return nil }

func TestMarketCacheConcurrentRefreshRunsOnce(t *testing.T) {
	cache := NewMarketCache(discardLogger(), WithClock(clock))

	var calls int32
	refresh := func(ctx context.Context) (model.Market, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return btcusd(pricedAt(65000, fixedNow)), nil
	}

	const n = 50
	results := make([]model.Market, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrRefresh(context.Background(), "btcusd", refresh)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("refresh called %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		p, ok := results[i].Price()
		if !ok || p.Value != 65000 || !p.Timestamp.Equal(fixedNow) {
			t.Fatalf("caller %d got %+v", i, p)
		}
	}
}

func TestMarketCacheFreshHitSkipsRefresh(t *testing.T) {
	cache := NewMarketCache(discardLogger(), WithClock(clock))
	cache.Set(context.Background(), btcusd(pricedAt(1, fixedNow.Add(-3*time.Minute))))

	m, err := cache.GetOrRefresh(context.Background(), "btcusd", func(context.Context) (model.Market, error) {
		t.Fatal("refresh must not run for a fresh entry")
		return model.Market{}, nil
	})
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if p, _ := m.Price(); p.Value != 1 {
		t.Errorf("price = %v, want 1", p.Value)
	}
}

func TestMarketCacheRefreshesOutdatedEntry(t *testing.T) {
	cache := NewMarketCache(discardLogger(), WithClock(clock))
	cache.Set(context.Background(), btcusd(pricedAt(1, fixedNow.Add(-10*time.Minute))))

	m, err := cache.GetOrRefresh(context.Background(), "btcusd", func(context.Context) (model.Market, error) {
		return btcusd(pricedAt(2, fixedNow)), nil
	})
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if p, _ := m.Price(); p.Value != 2 {
		t.Errorf("price = %v, want 2", p.Value)
	}
	if cached, _ := cache.Get("btcusd"); cached.IsOutdatedAt(fixedNow) {
		t.Error("refreshed value was not stored")
	}
}

func TestMarketCacheSoftFailServesStale(t *testing.T) {
	cache := NewMarketCache(discardLogger(), WithClock(clock))
	cache.Set(context.Background(), btcusd(pricedAt(1, fixedNow.Add(-10*time.Minute))))

	m, err := cache.GetOrRefresh(context.Background(), "btcusd", func(context.Context) (model.Market, error) {
		return model.Market{}, errors.New("upstream down")
	})
	if err != nil {
		t.Fatalf("expected stale data, got error %v", err)
	}
	if p, _ := m.Price(); p.Value != 1 {
		t.Errorf("price = %v, want stale 1", p.Value)
	}
	if cached, _ := cache.Get("btcusd"); cached.Pair != "BITCOIN/USD" {
		t.Error("failed refresh altered the cached entry")
	}
}

func TestMarketCacheRefreshErrorWithoutData(t *testing.T) {
	cache := NewMarketCache(discardLogger(), WithClock(clock))
	upstream := errors.New("upstream down")

	_, err := cache.GetOrRefresh(context.Background(), "btcusd", func(context.Context) (model.Market, error) {
		return model.Market{}, upstream
	})

	var rf *model.RefreshFailedError
	if !errors.As(err, &rf) || rf.MarketID != "btcusd" {
		t.Fatalf("err = %v, want RefreshFailedError", err)
	}
	if !errors.Is(err, upstream) {
		t.Error("RefreshFailedError does not unwrap the cause")
	}
	if _, ok := cache.Get("btcusd"); ok {
		t.Error("failed refresh stored an entry")
	}
}

func TestMarketCacheCallerCancelDoesNotCancelRefresh(t *testing.T) {
	cache := NewMarketCache(discardLogger(), WithClock(clock))

	release := make(chan struct{})
	done := make(chan struct{})
	refresh := func(ctx context.Context) (model.Market, error) {
		defer close(done)
		select {
		case <-release:
			return btcusd(pricedAt(3, fixedNow)), nil
		case <-ctx.Done():
			return model.Market{}, ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := cache.GetOrRefresh(ctx, "btcusd", refresh)
		errCh <- err
	}()

	waiter := make(chan model.Market, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		m, _ := cache.GetOrRefresh(context.Background(), "btcusd", refresh)
		waiter <- m
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v", err)
	}

	close(release)
	<-done

	m := <-waiter
	if p, ok := m.Price(); !ok || p.Value != 3 {
		t.Fatalf("remaining waiter got %+v", m)
	}
	if cached, ok := cache.Get("btcusd"); !ok || cached.IsOutdatedAt(fixedNow) {
		t.Error("refresh result was not stored after caller cancelled")
	}
}

func TestMarketCacheRefreshTimeoutResolvesWaiters(t *testing.T) {
	cache := NewMarketCache(discardLogger(), WithClock(clock), WithRefreshTimeout(20*time.Millisecond))

	_, err := cache.GetOrRefresh(context.Background(), "btcusd", func(ctx context.Context) (model.Market, error) {
		<-ctx.Done()
		return model.Market{}, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestMarketCacheSetIgnoresOlderTicks(t *testing.T) {
	cache := NewMarketCache(discardLogger(), WithClock(clock))
	ctx := context.Background()

	if !cache.Set(ctx, btcusd(pricedAt(2, fixedNow))) {
		t.Fatal("first Set rejected")
	}
	if cache.Set(ctx, btcusd(pricedAt(1, fixedNow.Add(-time.Minute)))) {
		t.Error("older tick replaced newer one")
	}
	if !cache.Set(ctx, btcusd(pricedAt(3, fixedNow))) {
		t.Error("tick with equal timestamp rejected")
	}

	m, _ := cache.Get("btcusd")
	if p, _ := m.Price(); p.Value != 3 {
		t.Errorf("price = %v, want 3", p.Value)
	}
}

func TestMarketCacheClampsFutureTimestamps(t *testing.T) {
	cache := NewMarketCache(discardLogger(), WithClock(clock))
	ctx := context.Background()

	if !cache.Set(ctx, btcusd(pricedAt(1, fixedNow.Add(time.Hour)))) {
		t.Fatal("future tick rejected")
	}
	m, _ := cache.Get("btcusd")
	if p, _ := m.Price(); !p.Timestamp.Equal(fixedNow) {
		t.Errorf("future timestamp stored as %s, want %s", p.Timestamp, fixedNow)
	}

	if !cache.Set(ctx, btcusd(pricedAt(2, fixedNow))) {
		t.Error("real tick shadowed by a future-dated one")
	}

	var calls int32
	got, err := cache.GetOrRefresh(ctx, "btcusd", func(context.Context) (model.Market, error) {
		atomic.AddInt32(&calls, 1)
		return model.Market{}, errors.New("unexpected refresh")
	})
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	p, _ := got.Price()
	if p.Value != 2 || calls != 0 {
		t.Errorf("served %v after %d refreshes, want 2 after 0", p.Value, calls)
	}
	if ttl := p.TimeToLiveAt(fixedNow); ttl > 5*time.Minute {
		t.Errorf("ttl = %s, exceeds the validity window", ttl)
	}

	// small skew is tolerated as is
	ahead := fixedNow.Add(10 * time.Second)
	cache.Set(ctx, btcusd(pricedAt(3, ahead)))
	m, _ = cache.Get("btcusd")
	if p, _ := m.Price(); !p.Timestamp.Equal(ahead) {
		t.Errorf("timestamp within skew changed to %s", p.Timestamp)
	}
}

func TestMarketCacheClampsFutureRefresh(t *testing.T) {
	cache := NewMarketCache(discardLogger(), WithClock(clock))

	got, err := cache.GetOrRefresh(context.Background(), "btcusd", func(context.Context) (model.Market, error) {
		return btcusd(pricedAt(5, fixedNow.Add(24*time.Hour))), nil
	})
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if p, _ := got.Price(); p.Value != 5 || !p.Timestamp.Equal(fixedNow) {
		t.Errorf("refreshed price = %+v, want value 5 at %s", p, fixedNow)
	}
}

type countingMetrics struct {
	hits, refreshes, failures, stale int32
}

func (m *countingMetrics) CacheHit()      { atomic.AddInt32(&m.hits, 1) }
func (m *countingMetrics) Refresh()       { atomic.AddInt32(&m.refreshes, 1) }
func (m *countingMetrics) RefreshFailed() { atomic.AddInt32(&m.failures, 1) }
func (m *countingMetrics) StaleServed()   { atomic.AddInt32(&m.stale, 1) }

func TestMarketCacheCountsOutcomes(t *testing.T) {
	metrics := &countingMetrics{}
	cache := NewMarketCache(discardLogger(), WithClock(clock), WithMetrics(metrics))
	ctx := context.Background()

	fail := true
	refresh := func(context.Context) (model.Market, error) {
		if fail {
			return model.Market{}, errors.New("upstream down")
		}
		return btcusd(pricedAt(2, fixedNow)), nil
	}

	// no data: refresh fails without a stale fallback
	if _, err := cache.GetOrRefresh(ctx, "btcusd", refresh); err == nil {
		t.Fatal("expected error without data")
	}

	// stale entry: failed refresh serves it
	cache.Set(ctx, btcusd(pricedAt(1, fixedNow.Add(-10*time.Minute))))
	if _, err := cache.GetOrRefresh(ctx, "btcusd", refresh); err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}

	fail = false
	cache.GetOrRefresh(ctx, "btcusd", refresh)
	cache.GetOrRefresh(ctx, "btcusd", refresh)

	want := countingMetrics{hits: 1, refreshes: 3, failures: 2, stale: 1}
	if *metrics != want {
		t.Errorf("metrics = %+v, want %+v", *metrics, want)
	}
}

func TestMarketCacheUsesFreshBackingEntry(t *testing.T) {
	backing := newMemCache()
	backing.markets["btcusd"] = btcusd(pricedAt(7, fixedNow.Add(-time.Minute)))
	cache := NewMarketCache(discardLogger(), WithClock(clock), WithBacking(backing))

	m, err := cache.GetOrRefresh(context.Background(), "btcusd", func(context.Context) (model.Market, error) {
		t.Fatal("refresh must not run when the external cache is fresh")
		return model.Market{}, nil
	})
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if p, _ := m.Price(); p.Value != 7 {
		t.Errorf("price = %v, want 7", p.Value)
	}
}

func TestMarketCacheWritesThroughAndWarms(t *testing.T) {
	backing := newMemCache()
	cache := NewMarketCache(discardLogger(), WithClock(clock), WithBacking(backing))

	_, err := cache.GetOrRefresh(context.Background(), "btcusd", func(context.Context) (model.Market, error) {
		return btcusd(pricedAt(5, fixedNow)), nil
	})
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if backing.sets != 1 {
		t.Fatalf("external writes = %d, want 1", backing.sets)
	}

	fresh := NewMarketCache(discardLogger(), WithClock(clock), WithBacking(backing))
	if n := fresh.Warm(context.Background(), []model.MarketID{"btcusd", "ethusd"}); n != 1 {
		t.Errorf("Warm loaded %d, want 1", n)
	}
	if _, ok := fresh.Get("btcusd"); !ok {
		t.Error("warmed market missing")
	}
}

func TestMarketCacheBackingErrorFallsThroughToRefresh(t *testing.T) {
	backing := newMemCache()
	backing.getErr = errors.New("redis down")
	cache := NewMarketCache(discardLogger(), WithClock(clock), WithBacking(backing))

	m, err := cache.GetOrRefresh(context.Background(), "btcusd", func(context.Context) (model.Market, error) {
		return btcusd(pricedAt(9, fixedNow)), nil
	})
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if p, _ := m.Price(); p.Value != 9 {
		t.Errorf("price = %v, want 9", p.Value)
	}
}
