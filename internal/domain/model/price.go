package model

import (
	"encoding/json"
	"time"
)

// ValidityMinutes is the width of the freshness bucket of a price.
const ValidityMinutes = 5

const validity = ValidityMinutes * time.Minute

// Expiring is implemented by every priced entity whose cacheability is
// exposed to callers.
type Expiring interface {
	IsOutdated() bool
	TimeToLive() time.Duration
}

// Price is the last observed exchange rate at Timestamp.
type Price struct {
	Value     float64
	Timestamp time.Time
}

func NewPrice(value float64, ts time.Time) Price {
	return Price{Value: value, Timestamp: ts}
}

func (p Price) IsOutdated() bool {
	return p.IsOutdatedAt(time.Now())
}

// IsOutdatedAt reports whether now falls in a later 5-minute bucket than the
// price timestamp. Buckets are aligned to the UTC wall clock, so a different
// day or hour always lands in a later bucket.
func (p Price) IsOutdatedAt(now time.Time) bool {
	return bucketStart(now).After(bucketStart(p.Timestamp))
}

func (p Price) TimeToLive() time.Duration {
	return p.TimeToLiveAt(time.Now())
}

// TimeToLiveAt never returns a negative duration.
func (p Price) TimeToLiveAt(now time.Time) time.Duration {
	ttl := p.Timestamp.Add(validity).Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Inverted returns the price of the reverse pair observed at the same instant.
func (p Price) Inverted() (Price, bool) {
	if p.Value == 0 {
		return Price{}, false
	}
	return Price{Value: 1 / p.Value, Timestamp: p.Timestamp}, true
}

type priceJSON struct {
	Price float64 `json:"price"`
	Ts    int64   `json:"ts"`
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(priceJSON{Price: p.Value, Ts: p.Timestamp.Unix()})
}

func (p *Price) UnmarshalJSON(data []byte) error {
	var raw priceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Value = raw.Price
	p.Timestamp = time.Unix(raw.Ts, 0).UTC()
	return nil
}

func bucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(validity)
}

// PriceUpdate is a single tick pushed by a feed.
type PriceUpdate struct {
	MarketID  string    `json:"market_id"`
	Source    string    `json:"source"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

func (u PriceUpdate) ToPrice() Price {
	return Price{Value: u.Price, Timestamp: u.Timestamp}
}

// ConversionRate is a price annotated with its remaining validity as of At.
type ConversionRate struct {
	Base  AssetID
	Quote AssetID
	Price Price
	TTL   time.Duration
	At    time.Time
}

// IsOutdated applies the bucket rule of Price at the instant the rate was
// computed, or at the current time when At is unset.
func (c ConversionRate) IsOutdated() bool {
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	return c.Price.IsOutdatedAt(at)
}

func (c ConversionRate) TimeToLive() time.Duration {
	return c.TTL
}
