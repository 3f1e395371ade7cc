package port

import (
	"context"
	"time"

	"marketdata/internal/domain/model"
)

// AssetRegistry resolves asset ids known to the system. ResolveAsset returns
// nil without error for unknown ids.
type AssetRegistry interface {
	ResolveAsset(ctx context.Context, id model.AssetID) (*model.Asset, error)
	AssetsByKind(ctx context.Context, kind model.AssetKind) ([]model.Asset, error)
}

// MarketLookup finds the market trading base against quote. MarketFor returns
// nil without error when no such market exists.
type MarketLookup interface {
	MarketFor(ctx context.Context, baseID, quoteID model.AssetID) (*model.Market, error)
	Markets(ctx context.Context) ([]model.Market, error)
}

type CandleStore interface {
	SaveCandles(ctx context.Context, candles []model.Candle) error
	GetCandles(ctx context.Context, marketID model.MarketID, freq model.OHLCFrequency, from, to time.Time) ([]model.Candle, error)
}

type StoragePort interface {
	AssetRegistry
	MarketLookup
	CandleStore
	InitSchema(ctx context.Context) error
	SeedAssets(ctx context.Context, assets []model.Asset) error
	SeedMarkets(ctx context.Context, markets []model.Market) error
	Ping(ctx context.Context) error
	Close() error
}
