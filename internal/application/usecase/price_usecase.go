package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketdata/internal/application/service"
	"marketdata/internal/domain/model"
	"marketdata/internal/domain/port"
)

type PriceUseCase struct {
	assets   port.AssetRegistry
	markets  port.MarketLookup
	candles  port.CandleStore
	strategy PairStrategy
	cache    *service.MarketCache
	provider port.PriceProvider
	logger   *slog.Logger
	now      func() time.Time
}

func NewPriceUseCase(
	assets port.AssetRegistry,
	markets port.MarketLookup,
	candles port.CandleStore,
	strategy PairStrategy,
	cache *service.MarketCache,
	provider port.PriceProvider,
	logger *slog.Logger,
) *PriceUseCase {
	if strategy == nil {
		strategy = DirectPairStrategy{}
	}
	return &PriceUseCase{
		assets:   assets,
		markets:  markets,
		candles:  candles,
		strategy: strategy,
		cache:    cache,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the clock used for TTL computation.
func (uc *PriceUseCase) WithClock(now func() time.Time) *PriceUseCase {
	uc.now = now
	return uc
}

// GetConversionRate resolves the price of baseID expressed in quoteID
// together with its remaining validity.
func (uc *PriceUseCase) GetConversionRate(ctx context.Context, baseID, quoteID model.AssetID) (*model.ConversionRate, error) {
	base, err := uc.resolveAsset(ctx, baseID)
	if err != nil {
		return nil, err
	}
	quote, err := uc.resolveAsset(ctx, quoteID)
	if err != nil {
		return nil, err
	}

	res, err := uc.strategy.Resolve(ctx, uc.markets, *base, *quote)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve market %s/%s: %w", baseID, quoteID, err)
	}
	if res == nil {
		return nil, &model.PriceNotAvailableError{Base: baseID, Quote: quoteID}
	}

	market, err := uc.cache.GetOrRefresh(ctx, res.Market.ID, uc.refreshFunc(res.Market))
	if err != nil {
		return nil, err
	}

	price, ok := market.Price()
	if !ok {
		return nil, &model.PriceNotAvailableError{Base: baseID, Quote: quoteID}
	}
	if res.Inverted {
		if price, ok = price.Inverted(); !ok {
			return nil, &model.PriceNotAvailableError{Base: baseID, Quote: quoteID}
		}
	}

	now := uc.now()
	return &model.ConversionRate{
		Base:  baseID,
		Quote: quoteID,
		Price: price,
		TTL:   price.TimeToLiveAt(now),
		At:    now,
	}, nil
}

// RefreshMarket refreshes market through the cache if it is outdated.
func (uc *PriceUseCase) RefreshMarket(ctx context.Context, market model.Market) error {
	_, err := uc.cache.GetOrRefresh(ctx, market.ID, uc.refreshFunc(market))
	return err
}

func (uc *PriceUseCase) GetAssets(ctx context.Context, kind model.AssetKind) ([]model.Asset, error) {
	assets, err := uc.assets.AssetsByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s assets: %w", kind, err)
	}
	return assets, nil
}

// GetCandles returns the candles of marketID inside the lookback window of
// freq ending now.
func (uc *PriceUseCase) GetCandles(ctx context.Context, marketID model.MarketID, freq model.OHLCFrequency) ([]model.Candle, error) {
	low, high := freq.Range(uc.now().UTC())
	candles, err := uc.candles.GetCandles(ctx, marketID, freq, low, high)
	if err != nil {
		return nil, fmt.Errorf("failed to get candles for %s: %w", marketID, err)
	}
	return candles, nil
}

func (uc *PriceUseCase) resolveAsset(ctx context.Context, id model.AssetID) (*model.Asset, error) {
	a, err := uc.assets.ResolveAsset(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asset %s: %w", id, err)
	}
	if a == nil {
		return nil, &model.AssetNotFoundError{ID: id}
	}
	return a, nil
}

func (uc *PriceUseCase) refreshFunc(market model.Market) service.RefreshFunc {
	return func(ctx context.Context) (model.Market, error) {
		price, err := uc.provider.FetchPrice(ctx, market)
		if err != nil {
			return model.Market{}, err
		}
		uc.logger.Debug("price fetched", "market", market.ID, "provider", uc.provider.Name(), "price", price.Value)
		return market.WithPrice(price), nil
	}
}
