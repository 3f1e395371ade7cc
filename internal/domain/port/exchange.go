package port

import (
	"context"

	"marketdata/internal/domain/model"
)

// ExchangePort определяет интерфейс для фидов, которые сами присылают тики
type ExchangePort interface {
	Connect(ctx context.Context) error
	Subscribe(marketIDs []model.MarketID) error
	ReadPrices(ctx context.Context) (<-chan model.PriceUpdate, <-chan error)
	Close() error
	Name() string
}
