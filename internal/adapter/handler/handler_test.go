package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketdata/internal/application/service"
	"marketdata/internal/application/usecase"
	"marketdata/internal/domain/model"
)

var (
	now = time.Date(2024, 3, 10, 10, 4, 0, 0, time.UTC)
	btc = model.NewCrypto("bitcoin")
	usd = model.NewFiat("usd", "USD")
	eur = model.NewFiat("eur", "EUR")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type registry map[model.AssetID]model.Asset

func (r registry) ResolveAsset(_ context.Context, id model.AssetID) (*model.Asset, error) {
	a, ok := r[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r registry) AssetsByKind(_ context.Context, kind model.AssetKind) ([]model.Asset, error) {
	var out []model.Asset
	for _, id := range []model.AssetID{"bitcoin", "eur", "usd"} {
		if a, ok := r[id]; ok && a.Kind == kind {
			out = append(out, a)
		}
	}
	return out, nil
}

type lookup []model.Market

func (l lookup) MarketFor(_ context.Context, baseID, quoteID model.AssetID) (*model.Market, error) {
	for _, m := range l {
		if m.Base.ID == baseID && m.Quote.ID == quoteID {
			m := m
			return &m, nil
		}
	}
	return nil, nil
}

func (l lookup) Markets(context.Context) ([]model.Market, error) { return l, nil }

type noCandles struct{}

func (noCandles) SaveCandles(context.Context, []model.Candle) error { return nil }

func (noCandles) GetCandles(_ context.Context, id model.MarketID, freq model.OHLCFrequency, from, _ time.Time) ([]model.Candle, error) {
	return []model.Candle{{MarketID: id, Frequency: freq, Start: from, Open: 1, High: 1, Low: 1, Close: 1, Ticks: 1}}, nil
}

type stubProvider struct {
	err error
}

func (p stubProvider) Name() string { return "stub" }

func (p stubProvider) FetchPrice(context.Context, model.Market) (model.Price, error) {
	if p.err != nil {
		return model.Price{}, p.err
	}
	return model.NewPrice(1.1, now), nil
}

// newTestRouter wires the real resolver and cache behind the router.
func newTestRouter(t *testing.T, provider stubProvider, seed ...model.Market) http.Handler {
	t.Helper()
	logger := discardLogger()
	clock := func() time.Time { return now }

	cache := service.NewMarketCache(logger, service.WithClock(clock))
	for _, m := range seed {
		cache.Set(context.Background(), m)
	}

	markets := lookup{
		model.NewMarket("btcusd", btc, usd, nil),
		model.NewMarket("eurusd", eur, usd, nil),
	}
	uc := usecase.NewPriceUseCase(registry{"bitcoin": btc, "usd": usd, "eur": eur}, markets, noCandles{},
		usecase.DirectPairStrategy{}, cache, provider, logger).WithClock(clock)

	modes := service.NewModeService(model.LiveMode, nil, logger)
	return NewRouter(
		NewPriceHandler(uc, logger),
		NewAssetHandler(uc, logger),
		NewHealthHandler(okPinger{}, nil, logger),
		NewModeHandler(modes, logger),
	)
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestGetPriceCachedMarket(t *testing.T) {
	p := model.NewPrice(65000, now.Add(-3*time.Minute))
	router := newTestRouter(t, stubProvider{err: errors.New("must not be called")}, model.NewMarket("btcusd", btc, usd, &p))

	rec := serve(router, http.MethodGet, "/price/bitcoin?quote=usd")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=120" {
		t.Errorf("Cache-Control = %q", got)
	}

	var body struct {
		Price float64 `json:"price"`
		TS    int64   `json:"ts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Price != 65000 || body.TS != p.Timestamp.Unix() {
		t.Errorf("body = %+v", body)
	}
}

func TestGetPriceRefreshesMissingMarket(t *testing.T) {
	router := newTestRouter(t, stubProvider{})

	rec := serve(router, http.MethodGet, "/price/EUR?quote=USD")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=300" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestGetPriceErrors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		provider stubProvider
		status   int
	}{
		{"missing quote", "/price/bitcoin", stubProvider{}, http.StatusBadRequest},
		{"unknown asset", "/price/dogecoin?quote=usd", stubProvider{}, http.StatusNotFound},
		{"unknown market", "/price/bitcoin?quote=eur", stubProvider{}, http.StatusNotFound},
		{"provider down", "/price/bitcoin?quote=usd", stubProvider{err: errors.New("timeout")}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestRouter(t, tt.provider), http.MethodGet, tt.target)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Error == "" {
				t.Errorf("error body = %+v, %v", body, err)
			}
			if rec.Header().Get("Cache-Control") != "" {
				t.Error("error response carries Cache-Control")
			}
		})
	}
}

type statusCounter map[int]int

func (c statusCounter) PriceRequest(status int) { c[status]++ }

type fixedPrices struct{}

func (fixedPrices) GetConversionRate(_ context.Context, base, quote model.AssetID) (*model.ConversionRate, error) {
	if base == "dogecoin" {
		return nil, &model.AssetNotFoundError{ID: base}
	}
	p := model.NewPrice(2, now)
	return &model.ConversionRate{Base: base, Quote: quote, Price: p, TTL: p.TimeToLiveAt(now), At: now}, nil
}

func (fixedPrices) GetCandles(context.Context, model.MarketID, model.OHLCFrequency) ([]model.Candle, error) {
	return nil, nil
}

func TestGetPriceCountsRequests(t *testing.T) {
	counter := statusCounter{}
	h := NewPriceHandler(fixedPrices{}, discardLogger()).WithMetrics(counter)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /price/{asset}", h.GetPrice)

	serve(mux, http.MethodGet, "/price/bitcoin?quote=usd")
	serve(mux, http.MethodGet, "/price/bitcoin?quote=usd")
	serve(mux, http.MethodGet, "/price/bitcoin")
	serve(mux, http.MethodGet, "/price/dogecoin?quote=usd")

	want := statusCounter{http.StatusOK: 2, http.StatusBadRequest: 1, http.StatusNotFound: 1}
	if len(counter) != len(want) {
		t.Fatalf("counts = %v, want %v", counter, want)
	}
	for status, n := range want {
		if counter[status] != n {
			t.Errorf("count[%d] = %d, want %d", status, counter[status], n)
		}
	}
}

func TestAssetLists(t *testing.T) {
	router := newTestRouter(t, stubProvider{})

	rec := serve(router, http.MethodGet, "/assets/fiat")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=300" {
		t.Errorf("Cache-Control = %q", got)
	}

	var assets []model.Asset
	if err := json.NewDecoder(rec.Body).Decode(&assets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(assets) != 2 || assets[0].ID != "eur" || assets[0].Kind != model.Fiat {
		t.Errorf("assets = %+v", assets)
	}

	rec = serve(router, http.MethodGet, "/assets/crypto")
	if rec.Code != http.StatusOK || !json.Valid(rec.Body.Bytes()) {
		t.Errorf("crypto: %d %s", rec.Code, rec.Body)
	}
}

func TestGetCandles(t *testing.T) {
	router := newTestRouter(t, stubProvider{})

	rec := serve(router, http.MethodGet, "/ohlc/btcusd?freq=1d")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body candlesResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Frequency != model.Daily.String() || len(body.Candles) != 1 {
		t.Errorf("body = %+v", body)
	}

	if rec := serve(router, http.MethodGet, "/ohlc/btcusd?freq=1h"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad freq status = %d", rec.Code)
	}
}

func TestCacheControlFor(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want string
	}{
		{0, "public, max-age=0"},
		{119*time.Second + 900*time.Millisecond, "public, max-age=119"},
		{5 * time.Minute, "public, max-age=300"},
	}
	for _, tt := range tests {
		if got := CacheControlFor(model.ConversionRate{TTL: tt.ttl}); got != tt.want {
			t.Errorf("CacheControlFor(%s) = %q, want %q", tt.ttl, got, tt.want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), &model.AssetNotFoundError{ID: "x"})
	tests := []struct {
		err  error
		want int
	}{
		{&model.AssetNotFoundError{ID: "x"}, http.StatusNotFound},
		{wrapped, http.StatusNotFound},
		{&model.PriceNotAvailableError{Base: "a", Quote: "b"}, http.StatusNotFound},
		{&model.RefreshFailedError{MarketID: "m", Err: io.EOF}, http.StatusBadGateway},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type failPinger struct{}

func (failPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealthCheck(t *testing.T) {
	logger := discardLogger()

	rec := httptest.NewRecorder()
	NewHealthHandler(okPinger{}, okPinger{}, logger).Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewHealthHandler(okPinger{}, failPinger{}, logger).Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d", rec.Code)
	}
}

type fakeModes struct {
	mode model.DataMode
	err  error
}

func (m *fakeModes) GetCurrentMode() model.DataMode { return m.mode }

func (m *fakeModes) SwitchMode(_ context.Context, mode model.DataMode) error {
	if m.err != nil {
		return m.err
	}
	m.mode = mode
	return nil
}

func TestModeHandler(t *testing.T) {
	modes := &fakeModes{mode: model.LiveMode}
	h := NewModeHandler(modes, discardLogger())

	rec := httptest.NewRecorder()
	h.SwitchToTest(rec, httptest.NewRequest(http.MethodPost, "/mode/test", nil))
	if rec.Code != http.StatusOK || modes.mode != model.TestMode {
		t.Errorf("switch to test: %d, mode %s", rec.Code, modes.mode)
	}

	modes.err = errors.New("no provider")
	rec = httptest.NewRecorder()
	h.SwitchToLive(rec, httptest.NewRequest(http.MethodPost, "/mode/live", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("failed switch status = %d", rec.Code)
	}
}
