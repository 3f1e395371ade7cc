package generator

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"marketdata/internal/domain/model"
)

const startPrice = 100.0

// TestGenerator produces a random walk per market. It serves test mode both
// as a push feed and as a pull price provider.
type TestGenerator struct {
	name     string
	markets  []model.MarketID
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	rnd    *rand.Rand
	last   map[model.MarketID]float64
	cancel context.CancelFunc
}

func NewTestGenerator(name string, markets []model.MarketID, interval time.Duration, log *slog.Logger) *TestGenerator {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &TestGenerator{
		name:     name,
		markets:  markets,
		interval: interval,
		log:      log,
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		last:     make(map[model.MarketID]float64),
	}
}

// WithSeed makes the walk reproducible.
func (t *TestGenerator) WithSeed(seed int64) *TestGenerator {
	t.mu.Lock()
	t.rnd = rand.New(rand.NewSource(seed))
	t.mu.Unlock()
	return t
}

func (t *TestGenerator) Name() string { return t.name }

func (t *TestGenerator) Connect(ctx context.Context) error {
	// nothing to do
	return nil
}

func (t *TestGenerator) Subscribe(marketIDs []model.MarketID) error {
	if len(marketIDs) > 0 {
		t.mu.Lock()
		t.markets = append([]model.MarketID(nil), marketIDs...)
		t.mu.Unlock()
	}
	return nil
}

func (t *TestGenerator) FetchPrice(_ context.Context, market model.Market) (model.Price, error) {
	return model.NewPrice(t.next(market.ID), t.now().UTC()), nil
}

func (t *TestGenerator) ReadPrices(ctx context.Context) (<-chan model.PriceUpdate, <-chan error) {
	out := make(chan model.PriceUpdate)
	errCh := make(chan error)
	ctx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.cancel = cancel
	markets := t.markets
	t.mu.Unlock()

	t.log.Info("test generator started", "name", t.name, "markets", len(markets), "interval", t.interval)

	go func() {
		defer close(out)
		defer close(errCh)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, id := range markets {
					update := model.PriceUpdate{
						MarketID:  id,
						Source:    t.name,
						Price:     t.next(id),
						Timestamp: t.now().UTC(),
					}
					select {
					case out <- update:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, errCh
}

// next moves the price of id by at most one percent.
func (t *TestGenerator) next(id model.MarketID) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	price, ok := t.last[id]
	if !ok {
		price = startPrice
	}
	price *= 1 + (t.rnd.Float64()*2-1)/100
	t.last[id] = price
	return price
}

func (t *TestGenerator) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	return nil
}
