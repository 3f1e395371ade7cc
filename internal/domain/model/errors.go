package model

import "fmt"

type AssetNotFoundError struct {
	ID AssetID
}

func (e *AssetNotFoundError) Error() string {
	return fmt.Sprintf("asset not found: %s", e.ID)
}

type PriceNotAvailableError struct {
	Base  AssetID
	Quote AssetID
}

func (e *PriceNotAvailableError) Error() string {
	return fmt.Sprintf("price not available for %s/%s", e.Base, e.Quote)
}

// RefreshFailedError wraps an upstream provider failure for a market that
// had no data to fall back on.
type RefreshFailedError struct {
	MarketID MarketID
	Err      error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("failed to refresh market %s: %v", e.MarketID, e.Err)
}

func (e *RefreshFailedError) Unwrap() error {
	return e.Err
}
