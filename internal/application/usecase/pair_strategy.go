package usecase

import (
	"context"
	"fmt"

	"marketdata/internal/domain/model"
	"marketdata/internal/domain/port"
)

// PairResolution is the market serving a requested pair. Inverted is set when
// the market trades quote against base and its price has to be inverted.
type PairResolution struct {
	Market   model.Market
	Inverted bool
}

// PairStrategy decides which market serves a (base, quote) request.
type PairStrategy interface {
	Resolve(ctx context.Context, lookup port.MarketLookup, base, quote model.Asset) (*PairResolution, error)
}

// DirectPairStrategy only serves markets listed in the requested direction.
type DirectPairStrategy struct{}

func (DirectPairStrategy) Resolve(ctx context.Context, lookup port.MarketLookup, base, quote model.Asset) (*PairResolution, error) {
	m, err := lookup.MarketFor(ctx, base.ID, quote.ID)
	if err != nil || m == nil {
		return nil, err
	}
	return &PairResolution{Market: *m}, nil
}

// ReversiblePairStrategy falls back to the reverse market and inverts its
// price.
type ReversiblePairStrategy struct{}

func (ReversiblePairStrategy) Resolve(ctx context.Context, lookup port.MarketLookup, base, quote model.Asset) (*PairResolution, error) {
	if res, err := (DirectPairStrategy{}).Resolve(ctx, lookup, base, quote); err != nil || res != nil {
		return res, err
	}

	m, err := lookup.MarketFor(ctx, quote.ID, base.ID)
	if err != nil || m == nil {
		return nil, err
	}
	return &PairResolution{Market: *m, Inverted: true}, nil
}

func NewPairStrategy(name string) (PairStrategy, error) {
	switch name {
	case "", "direct":
		return DirectPairStrategy{}, nil
	case "reversible":
		return ReversiblePairStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown pair strategy %q", name)
	}
}
