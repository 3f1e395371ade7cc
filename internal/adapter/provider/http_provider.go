package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketdata/internal/domain/model"
)

const maxBackoff = 2 * time.Second

type priceResponse struct {
	Price float64 `json:"price"`
	TS    int64   `json:"ts"`
}

// HTTPProvider pulls prices from a JSON endpoint at
// GET {baseURL}/{marketID} answering {"price": <float>, "ts": <unix seconds>}.
type HTTPProvider struct {
	baseURL string
	retries int
	backoff time.Duration
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPProvider(baseURL string, timeout time.Duration, retries int, logger *slog.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		retries: retries,
		backoff: 200 * time.Millisecond,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (p *HTTPProvider) Name() string {
	return "http"
}

// FetchPrice retries transport errors and 5xx answers with exponential
// backoff. 4xx answers are returned immediately.
func (p *HTTPProvider) FetchPrice(ctx context.Context, market model.Market) (model.Price, error) {
	backoff := p.backoff
	var lastErr error

	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return model.Price{}, fmt.Errorf("failed to fetch price for %s: %w", market.ID, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		price, retry, err := p.fetch(ctx, market.ID)
		if err == nil {
			return price, nil
		}
		lastErr = err
		if !retry {
			break
		}
		p.logger.Warn("price fetch failed", "market", market.ID, "attempt", attempt+1, "error", err)
	}

	return model.Price{}, fmt.Errorf("failed to fetch price for %s: %w", market.ID, lastErr)
}

func (p *HTTPProvider) fetch(ctx context.Context, id model.MarketID) (price model.Price, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+url.PathEscape(id), nil)
	if err != nil {
		return model.Price{}, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return model.Price{}, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return model.Price{}, resp.StatusCode >= 500, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pr priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return model.Price{}, false, fmt.Errorf("failed to decode price: %w", err)
	}
	if pr.Price <= 0 || pr.TS <= 0 {
		return model.Price{}, false, fmt.Errorf("invalid price payload %+v", pr)
	}
	return model.NewPrice(pr.Price, time.Unix(pr.TS, 0).UTC()), false, nil
}
