package exchange

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"marketdata/internal/domain/model"
)

// feeds send either {"market":..,"price":..,"timestamp":<unix millis or seconds>}
// or a bare "market,price" line
type rawPriceUpdate struct {
	Market    string  `json:"market"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

var minTimestamp = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// below this a feed timestamp is read as unix seconds: 1e11 ms is 1973,
// 1e11 s is far past any real clock
const secondsThreshold = 100_000_000_000

type lineParser struct {
	source string
	now    func() time.Time

	mu         sync.RWMutex
	subscribed map[model.MarketID]struct{}
}

func newLineParser(source string) *lineParser {
	return &lineParser{source: source, now: time.Now}
}

// subscribe restricts parsed updates to ids. An empty list accepts every market.
func (p *lineParser) subscribe(ids []model.MarketID) {
	set := make(map[model.MarketID]struct{}, len(ids))
	for _, id := range ids {
		set[strings.ToLower(id)] = struct{}{}
	}

	p.mu.Lock()
	p.subscribed = set
	p.mu.Unlock()
}

func (p *lineParser) accepts(id model.MarketID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.subscribed) == 0 {
		return true
	}
	_, ok := p.subscribed[id]
	return ok
}

// parse returns the update carried by line. ok is false for malformed lines
// and for markets outside the subscription.
func (p *lineParser) parse(line string) (update model.PriceUpdate, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return model.PriceUpdate{}, false
	}

	if strings.HasPrefix(line, "{") {
		update, ok = p.parseJSON(line)
	} else {
		update, ok = p.parseCSV(line)
	}
	if !ok || update.MarketID == "" || update.Price <= 0 {
		return model.PriceUpdate{}, false
	}
	return update, p.accepts(update.MarketID)
}

func (p *lineParser) parseJSON(line string) (model.PriceUpdate, bool) {
	var raw rawPriceUpdate
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return model.PriceUpdate{}, false
	}

	ts, ok := p.timestamp(raw.Timestamp)
	if !ok {
		return model.PriceUpdate{}, false
	}

	return model.PriceUpdate{
		MarketID:  strings.ToLower(raw.Market),
		Source:    p.source,
		Price:     raw.Price,
		Timestamp: ts,
	}, true
}

// timestamp converts a feed timestamp. A missing one means now; one before
// minTimestamp is rejected rather than restamped so a stale tick never
// passes as fresh.
func (p *lineParser) timestamp(raw int64) (time.Time, bool) {
	if raw == 0 {
		return p.now().UTC(), true
	}

	var ts time.Time
	if raw < secondsThreshold {
		ts = time.Unix(raw, 0).UTC()
	} else {
		ts = time.UnixMilli(raw).UTC()
	}
	if ts.Before(minTimestamp) {
		return time.Time{}, false
	}
	return ts, true
}

func (p *lineParser) parseCSV(line string) (model.PriceUpdate, bool) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return model.PriceUpdate{}, false
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return model.PriceUpdate{}, false
	}

	return model.PriceUpdate{
		MarketID:  strings.ToLower(strings.TrimSpace(parts[0])),
		Source:    p.source,
		Price:     price,
		Timestamp: p.now().UTC(),
	}, true
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
