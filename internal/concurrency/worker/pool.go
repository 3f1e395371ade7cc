package worker

import (
	"context"
	"log/slog"
	"sync"

	"marketdata/internal/concurrency/fanout"
	"marketdata/internal/domain/model"
)

// MarketSink принимает цены от фидов, реализуется кешем рынков.
type MarketSink interface {
	Set(ctx context.Context, market model.Market) bool
}

// TickWriter добавляет тик в OHLC-окно его рынка.
type TickWriter interface {
	AddTick(ctx context.Context, tick model.PriceUpdate) error
}

// Pool применяет поток PriceUpdate'ов к кешу рынков.
// Обработка: обновить цену рынка в кеше -> добавить тик в окно (sorted set).
// Каждый воркер владеет своим набором рынков, так что тики одного рынка
// обрабатываются по порядку.
type Pool struct {
	workers int
	markets map[model.MarketID]model.Market
	sink    MarketSink
	ticks   TickWriter
	logger  *slog.Logger
}

// NewPool создаёт новый пул воркеров. ticks может быть nil, если окно тиков
// не ведётся.
func NewPool(workers int, markets []model.Market, sink MarketSink, ticks TickWriter, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	byID := make(map[model.MarketID]model.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}
	return &Pool{
		workers: workers,
		markets: byID,
		sink:    sink,
		ticks:   ticks,
		logger:  logger,
	}
}

// Start запускает пул воркеров, читает из in и возвращает канал processed,
// в который помещаются принятые обновления. processed закрывается, когда все
// воркеры завершат работу.
func (p *Pool) Start(ctx context.Context, in <-chan model.PriceUpdate) <-chan model.PriceUpdate {
	out := make(chan model.PriceUpdate)
	var wg sync.WaitGroup

	shards := fanout.FanOut(in, p.workers)

	wg.Add(len(shards))
	for i, shard := range shards {
		go func(id int, shard <-chan model.PriceUpdate) {
			defer wg.Done()
			p.workerLoop(ctx, id, shard, out)
		}(i, shard)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func (p *Pool) workerLoop(ctx context.Context, id int, in <-chan model.PriceUpdate, out chan<- model.PriceUpdate) {
	// дочитываем шард при выходе, чтобы FanOut не блокировался на мёртвом воркере
	defer func() {
		for range in {
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case pu, ok := <-in:
			if !ok {
				return
			}
			if !p.processOne(ctx, id, pu) {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- pu:
			}
		}
	}
}

func (p *Pool) processOne(ctx context.Context, id int, pu model.PriceUpdate) bool {
	market, ok := p.markets[pu.MarketID]
	if !ok {
		p.logger.Debug("worker: tick for unknown market dropped", "worker", id, "market", pu.MarketID, "source", pu.Source)
		return false
	}

	if !p.sink.Set(ctx, market.WithPrice(pu.ToPrice())) {
		p.logger.Debug("worker: out of order tick ignored", "worker", id, "market", pu.MarketID, "ts", pu.Timestamp)
	}

	if p.ticks != nil {
		if err := p.ticks.AddTick(ctx, pu); err != nil {
			p.logger.Error("worker: AddTick failed", "worker", id, "market", pu.MarketID, "source", pu.Source, "error", err)
		}
	}

	p.logger.Debug("worker: processed price", "worker", id, "market", pu.MarketID, "source", pu.Source, "price", pu.Price)
	return true
}
