package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type MarketID = string

// Market is an ordered trading pair with an optional last-known price.
// Pair is computed once by NewMarket and never recomputed.
type Market struct {
	ID    MarketID
	Pair  string
	Base  Asset
	Quote Asset
	price *Price
}

func NewMarket(id MarketID, base, quote Asset, price *Price) Market {
	m := Market{
		ID:    id,
		Pair:  fmt.Sprintf("%s/%s", strings.ToUpper(base.ID), strings.ToUpper(quote.ID)),
		Base:  base,
		Quote: quote,
	}
	if price != nil {
		p := *price
		m.price = &p
	}
	return m
}

func (m Market) Price() (Price, bool) {
	if m.price == nil {
		return Price{}, false
	}
	return *m.price, true
}

// SetPrice replaces the cached price.
func (m *Market) SetPrice(p Price) {
	m.price = &p
}

// WithPrice returns a copy of the market holding p.
func (m Market) WithPrice(p Price) Market {
	m.price = &p
	return m
}

func (m Market) IsFiat() bool {
	return m.Base.IsFiat() && m.Quote.IsFiat()
}

func (m Market) IsOutdated() bool {
	return m.IsOutdatedAt(time.Now())
}

// IsOutdatedAt treats a market without a price as outdated.
func (m Market) IsOutdatedAt(now time.Time) bool {
	if m.price == nil {
		return true
	}
	return m.price.IsOutdatedAt(now)
}

func (m Market) TimeToLive() time.Duration {
	return m.TimeToLiveAt(time.Now())
}

func (m Market) TimeToLiveAt(now time.Time) time.Duration {
	if m.price == nil {
		return 0
	}
	return m.price.TimeToLiveAt(now)
}

type marketJSON struct {
	ID    string   `json:"id"`
	Pair  string   `json:"pair"`
	Base  Asset    `json:"base"`
	Quote Asset    `json:"quote"`
	Price *float64 `json:"price,omitempty"`
	Ts    *int64   `json:"ts,omitempty"`
}

// MarshalJSON flattens the optional price into the market object.
func (m Market) MarshalJSON() ([]byte, error) {
	raw := marketJSON{ID: m.ID, Pair: m.Pair, Base: m.Base, Quote: m.Quote}
	if m.price != nil {
		v, ts := m.price.Value, m.price.Timestamp.Unix()
		raw.Price, raw.Ts = &v, &ts
	}
	return json.Marshal(raw)
}

func (m *Market) UnmarshalJSON(data []byte) error {
	var raw marketJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Market{ID: raw.ID, Pair: raw.Pair, Base: raw.Base, Quote: raw.Quote}
	if m.Pair == "" {
		*m = NewMarket(raw.ID, raw.Base, raw.Quote, nil)
	}
	if raw.Price != nil && raw.Ts != nil {
		m.SetPrice(Price{Value: *raw.Price, Timestamp: time.Unix(*raw.Ts, 0).UTC()})
	}
	return nil
}
