package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"marketdata/internal/domain/model"
)

type PriceService interface {
	GetConversionRate(ctx context.Context, baseID, quoteID model.AssetID) (*model.ConversionRate, error)
	GetCandles(ctx context.Context, marketID model.MarketID, freq model.OHLCFrequency) ([]model.Candle, error)
}

// RequestMetrics counts price requests by response status.
type RequestMetrics interface {
	PriceRequest(status int)
}

type PriceHandler struct {
	prices  PriceService
	metrics RequestMetrics
	logger  *slog.Logger
}

func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		logger: logger,
	}
}

// WithMetrics makes GetPrice count every response.
func (h *PriceHandler) WithMetrics(m RequestMetrics) *PriceHandler {
	h.metrics = m
	return h
}

func (h *PriceHandler) observe(status int) {
	if h.metrics != nil {
		h.metrics.PriceRequest(status)
	}
}

// GetPrice serves GET /price/{asset}?quote={quote}.
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	base := strings.ToLower(r.PathValue("asset"))
	quote := strings.ToLower(r.URL.Query().Get("quote"))
	if base == "" {
		h.observe(http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "asset is required")
		return
	}
	if quote == "" {
		h.observe(http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "quote is required")
		return
	}

	rate, err := h.prices.GetConversionRate(r.Context(), base, quote)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("failed to get conversion rate", "base", base, "quote", quote, "error", err)
		} else {
			h.logger.Debug("conversion rate unavailable", "base", base, "quote", quote, "error", err)
		}
		h.observe(status)
		writeError(w, status, err.Error())
		return
	}

	h.observe(http.StatusOK)
	w.Header().Set("Cache-Control", CacheControlFor(rate))
	writeJSON(w, http.StatusOK, rate.Price)
}

type candlesResponse struct {
	Market    model.MarketID `json:"market"`
	Frequency string         `json:"frequency"`
	Candles   []model.Candle `json:"candles"`
}

// GetCandles serves GET /ohlc/{market}?freq=5m|1d.
func (h *PriceHandler) GetCandles(w http.ResponseWriter, r *http.Request) {
	marketID := strings.ToLower(r.PathValue("market"))
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "market is required")
		return
	}

	freq := model.Minutes5
	if raw := r.URL.Query().Get("freq"); raw != "" {
		parsed, err := model.ParseOHLCFrequency(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		freq = parsed
	}

	candles, err := h.prices.GetCandles(r.Context(), marketID, freq)
	if err != nil {
		h.logger.Error("failed to get candles", "market", marketID, "freq", freq, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, candlesResponse{
		Market:    marketID,
		Frequency: freq.String(),
		Candles:   candles,
	})
}
