package model

import (
	"fmt"
	"strings"
	"time"
)

// OHLCFrequency selects the width of the buckets historical ticks are
// aggregated into.
type OHLCFrequency int

const (
	Minutes5 OHLCFrequency = iota
	Daily
)

const (
	minutes5      = 5 * time.Minute
	minutes5Count = 12
	dailyLookback = 1
)

func (f OHLCFrequency) String() string {
	switch f {
	case Minutes5:
		return "Minutes5"
	case Daily:
		return "Daily"
	default:
		return "unknown"
	}
}

func ParseOHLCFrequency(s string) (OHLCFrequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "5m", "minutes5":
		return Minutes5, nil
	case "1d", "daily":
		return Daily, nil
	default:
		return 0, fmt.Errorf("unknown ohlc frequency %q", s)
	}
}

// Range returns the [low, high) lookback window for ts.
//
// Minutes5: high is ts floored to its 5-minute bucket, low is 12 buckets
// earlier. Daily: high is ts itself, low is the start of the previous day.
func (f OHLCFrequency) Range(ts time.Time) (low, high time.Time) {
	switch f {
	case Daily:
		low = startOfDay(ts).AddDate(0, 0, -dailyLookback)
		return low, ts
	default:
		high = floorMinutes5(ts)
		return high.Add(-minutes5Count * minutes5), high
	}
}

// Bucket returns the [start, end) bucket containing ts.
func (f OHLCFrequency) Bucket(ts time.Time) (start, end time.Time) {
	switch f {
	case Daily:
		start = startOfDay(ts)
		return start, start.AddDate(0, 0, 1)
	default:
		start = floorMinutes5(ts)
		return start, start.Add(minutes5)
	}
}

func floorMinutes5(ts time.Time) time.Time {
	m := (ts.Minute() / 5) * 5
	return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), m, 0, 0, ts.Location())
}

func startOfDay(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
}

// Candle aggregates the ticks of one bucket.
type Candle struct {
	MarketID  string        `json:"market_id"`
	Frequency OHLCFrequency `json:"-"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Open      float64       `json:"open"`
	High      float64       `json:"high"`
	Low       float64       `json:"low"`
	Close     float64       `json:"close"`
	Ticks     int           `json:"ticks"`
}

// Add folds a tick into the candle. Ticks must arrive in time order.
func (c *Candle) Add(price float64) {
	if c.Ticks == 0 {
		c.Open, c.High, c.Low = price, price, price
	}
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Ticks++
}

// Merge folds a finer candle into c. Candles must arrive in time order.
func (c *Candle) Merge(o Candle) {
	if o.Ticks == 0 {
		return
	}
	if c.Ticks == 0 {
		c.Open, c.High, c.Low = o.Open, o.High, o.Low
	}
	if o.High > c.High {
		c.High = o.High
	}
	if o.Low < c.Low {
		c.Low = o.Low
	}
	c.Close = o.Close
	c.Ticks += o.Ticks
}
