package service

import (
	"context"
	"log/slog"
	"time"

	"marketdata/internal/domain/model"
	"marketdata/internal/domain/port"
)

// MarketRefresher refreshes one market through the market cache.
type MarketRefresher interface {
	RefreshMarket(ctx context.Context, market model.Market) error
}

// Poller keeps configured markets warm so readers rarely wait on upstream.
type Poller struct {
	markets   port.MarketLookup
	refresher MarketRefresher
	logger    *slog.Logger
}

func NewPoller(markets port.MarketLookup, refresher MarketRefresher, logger *slog.Logger) *Poller {
	return &Poller{markets: markets, refresher: refresher, logger: logger}
}

// Run blocks until ctx is done. A non-positive interval disables polling.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		p.logger.Info("poller disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce refreshes every known market and returns how many failed.
func (p *Poller) PollOnce(ctx context.Context) int {
	markets, err := p.markets.Markets(ctx)
	if err != nil {
		p.logger.Error("poller: failed to list markets", "error", err)
		return 0
	}

	failed := 0
	for _, m := range markets {
		if err := p.refresher.RefreshMarket(ctx, m); err != nil {
			failed++
			p.logger.Warn("poller: refresh failed", "market", m.ID, "error", err)
		}
	}
	return failed
}
