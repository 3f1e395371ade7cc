package port

import (
	"context"

	"marketdata/internal/domain/model"
)

// PriceProvider pulls the current price of a market from upstream.
type PriceProvider interface {
	Name() string
	FetchPrice(ctx context.Context, market model.Market) (model.Price, error)
}
