package port

import (
	"context"
	"time"

	"marketdata/internal/domain/model"
)

// CachePort is the external cache shared between service instances. It backs
// the in-process market cache and keeps the tick windows used for OHLC
// aggregation.
type CachePort interface {
	GetMarket(ctx context.Context, id model.MarketID) (*model.Market, error)
	SetMarket(ctx context.Context, market model.Market) error
	AddTick(ctx context.Context, tick model.PriceUpdate) error
	GetTicks(ctx context.Context, marketID model.MarketID, from, to time.Time) ([]model.PriceUpdate, error)
	DeleteOldTicks(ctx context.Context, before time.Time) error
	Ping(ctx context.Context) error
	Close() error
}
