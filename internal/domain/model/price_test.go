package model

import (
	"encoding/json"
	"testing"
	"time"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPriceIsOutdatedAt(t *testing.T) {
	tests := []struct {
		name string
		ts   string
		now  string
		want bool
	}{
		{"same instant", "2024-03-10T10:01:00Z", "2024-03-10T10:01:00Z", false},
		{"same bucket", "2024-03-10T10:00:00Z", "2024-03-10T10:04:59Z", false},
		{"same bucket late start", "2024-03-10T10:07:30Z", "2024-03-10T10:09:59.999Z", false},
		{"next bucket", "2024-03-10T10:04:59Z", "2024-03-10T10:05:00Z", true},
		{"several buckets later", "2024-03-10T10:01:00Z", "2024-03-10T10:31:00Z", true},
		{"next hour same minute", "2024-03-10T10:01:00Z", "2024-03-10T11:01:00Z", true},
		{"across midnight", "2024-03-10T23:58:00Z", "2024-03-11T00:02:00Z", true},
		{"next day same clock", "2024-03-10T10:01:00Z", "2024-03-11T10:01:00Z", true},
		{"future timestamp", "2024-03-10T10:20:00Z", "2024-03-10T10:01:00Z", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPrice(1, at(tt.ts))
			if got := p.IsOutdatedAt(at(tt.now)); got != tt.want {
				t.Errorf("IsOutdatedAt(%s) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestPriceIsOutdatedAtNonUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5:30", 5*3600+1800)
	ts := time.Date(2024, 3, 10, 15, 31, 0, 0, loc) // 10:01 UTC
	p := NewPrice(1, ts)

	if p.IsOutdatedAt(at("2024-03-10T10:04:00Z")) {
		t.Error("price in the same UTC bucket reported outdated")
	}
	if !p.IsOutdatedAt(at("2024-03-10T10:05:00Z")) {
		t.Error("price in an earlier UTC bucket reported fresh")
	}
}

func TestPriceTimeToLiveAt(t *testing.T) {
	ts := at("2024-03-10T10:01:00Z")
	p := NewPrice(42, ts)

	tests := []struct {
		now  time.Time
		want time.Duration
	}{
		{ts, 5 * time.Minute},
		{ts.Add(3 * time.Minute), 2 * time.Minute},
		{ts.Add(5*time.Minute - time.Second), time.Second},
		{ts.Add(5 * time.Minute), 0},
		{ts.Add(time.Hour), 0},
	}

	for _, tt := range tests {
		got := p.TimeToLiveAt(tt.now)
		if got != tt.want {
			t.Errorf("TimeToLiveAt(+%s) = %s, want %s", tt.now.Sub(ts), got, tt.want)
		}
		if got < 0 {
			t.Errorf("TimeToLiveAt(+%s) negative", tt.now.Sub(ts))
		}
	}
}

func TestConversionRateFollowsBucketRule(t *testing.T) {
	p := NewPrice(1.1, at("2024-03-10T10:04:30Z"))
	now := at("2024-03-10T10:05:10Z")
	rate := ConversionRate{Base: "eur", Quote: "usd", Price: p, TTL: p.TimeToLiveAt(now), At: now}

	// a positive TTL does not keep a price from the previous bucket fresh
	if rate.TTL != 4*time.Minute+20*time.Second {
		t.Fatalf("ttl = %s", rate.TTL)
	}
	if !rate.IsOutdated() {
		t.Error("rate from the previous bucket reported fresh")
	}
	if rate.IsOutdated() != p.IsOutdatedAt(now) {
		t.Error("rate and price disagree on staleness")
	}

	rate.At = at("2024-03-10T10:04:50Z")
	if rate.IsOutdated() {
		t.Error("rate within its bucket reported outdated")
	}
}

func TestPriceInverted(t *testing.T) {
	ts := at("2024-03-10T10:01:00Z")
	inv, ok := NewPrice(4, ts).Inverted()
	if !ok || inv.Value != 0.25 || !inv.Timestamp.Equal(ts) {
		t.Errorf("Inverted() = %+v, %v", inv, ok)
	}
	if _, ok := NewPrice(0, ts).Inverted(); ok {
		t.Error("zero price must not invert")
	}
}

func TestPriceJSON(t *testing.T) {
	p := NewPrice(65000.5, at("2024-03-10T10:01:30.750Z"))
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"price":65000.5,"ts":1710064890}` {
		t.Errorf("unexpected json %s", data)
	}
}
