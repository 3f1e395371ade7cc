package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketdata/internal/domain/model"
	"marketdata/internal/domain/port"
)

const aggregationConcurrency = 4

// AggregationService periodically turns the tick windows held in the external
// cache into OHLC candles and persists them.
type AggregationService struct {
	cache     port.CachePort
	candles   port.CandleStore
	markets   port.MarketLookup
	logger    *slog.Logger
	ticker    *time.Ticker
	done      chan struct{}
	retention time.Duration
	now       func() time.Time
	mu        sync.RWMutex
}

func NewAggregationService(cache port.CachePort, candles port.CandleStore, markets port.MarketLookup, retention time.Duration, logger *slog.Logger) *AggregationService {
	if retention <= 0 {
		retention = 2 * time.Hour
	}
	return &AggregationService{
		cache:     cache,
		candles:   candles,
		markets:   markets,
		logger:    logger,
		done:      make(chan struct{}),
		retention: retention,
		now:       time.Now,
	}
}

// Start runs the aggregation loop every interval, one minute when interval
// is not positive.
func (s *AggregationService) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	s.mu.Lock()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.ticker = time.NewTicker(interval)
	tick := s.ticker
	s.mu.Unlock()

	s.logger.Info("aggregation service starting", "interval", interval.String())

	go s.aggregateLoop(ctx, tick)
}

func (s *AggregationService) Stop() {
	s.mu.Lock()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()
	s.logger.Info("aggregation service stopped")
}

func (s *AggregationService) aggregateLoop(ctx context.Context, tick *time.Ticker) {
	s.logger.Info("aggregation loop started")

	for {
		select {
		case <-tick.C:
			start := time.Now()
			if err := s.Aggregate(ctx); err != nil {
				s.logger.Error("aggregation failed", "error", err, "duration", time.Since(start))
			} else {
				s.logger.Debug("aggregation cycle completed", "duration", time.Since(start))
			}
		case <-s.done:
			s.logger.Info("aggregation loop stopping by done channel")
			return
		case <-ctx.Done():
			s.logger.Info("aggregation loop cancelled by context")
			return
		}
	}
}

// Aggregate builds the 5-minute candles of the last hour from cached ticks,
// rolls them up into daily candles and trims ticks past retention.
func (s *AggregationService) Aggregate(ctx context.Context) error {
	markets, err := s.markets.Markets(ctx)
	if err != nil {
		return err
	}
	if len(markets) == 0 {
		return errors.New("no markets configured for aggregation")
	}

	now := s.now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(aggregationConcurrency)
	for _, m := range markets {
		id := m.ID
		g.Go(func() error {
			if err := s.aggregateMarket(gctx, id, now); err != nil {
				// one market failing must not stop the others
				s.logger.Error("failed to aggregate market", "market", id, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.cache.DeleteOldTicks(ctx, now.Add(-s.retention)); err != nil {
		s.logger.Error("failed to delete old ticks from cache", "error", err)
	}
	return nil
}

func (s *AggregationService) aggregateMarket(ctx context.Context, id model.MarketID, now time.Time) error {
	low, high := model.Minutes5.Range(now)
	ticks, err := s.cache.GetTicks(ctx, id, low, high)
	if err != nil {
		return err
	}

	if fine := BuildCandles(id, model.Minutes5, ticks); len(fine) > 0 {
		if err := s.candles.SaveCandles(ctx, fine); err != nil {
			return err
		}
		s.logger.Debug("aggregated", "market", id, "ticks", len(ticks), "candles", len(fine))
	}

	dayLow, dayHigh := model.Daily.Range(now)
	fine, err := s.candles.GetCandles(ctx, id, model.Minutes5, dayLow, dayHigh)
	if err != nil {
		return err
	}
	if daily := RollupCandles(id, model.Daily, fine); len(daily) > 0 {
		return s.candles.SaveCandles(ctx, daily)
	}
	return nil
}

// BuildCandles groups ticks into the buckets of freq.
func BuildCandles(id model.MarketID, freq model.OHLCFrequency, ticks []model.PriceUpdate) []model.Candle {
	sorted := append([]model.PriceUpdate(nil), ticks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var out []model.Candle
	for _, t := range sorted {
		start, end := freq.Bucket(t.Timestamp.UTC())
		if len(out) == 0 || !out[len(out)-1].Start.Equal(start) {
			out = append(out, model.Candle{MarketID: id, Frequency: freq, Start: start, End: end})
		}
		out[len(out)-1].Add(t.Price)
	}
	return out
}

// RollupCandles merges finer candles into the buckets of freq.
func RollupCandles(id model.MarketID, freq model.OHLCFrequency, fine []model.Candle) []model.Candle {
	sorted := append([]model.Candle(nil), fine...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var out []model.Candle
	for _, c := range sorted {
		start, end := freq.Bucket(c.Start.UTC())
		if len(out) == 0 || !out[len(out)-1].Start.Equal(start) {
			out = append(out, model.Candle{MarketID: id, Frequency: freq, Start: start, End: end})
		}
		out[len(out)-1].Merge(c)
	}
	return out
}
