package handler

import "net/http"

// NewRouter registers every HTTP route of the service.
func NewRouter(prices *PriceHandler, assets *AssetHandler, health *HealthHandler, modes *ModeHandler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /assets/fiat", assets.Fiat)
	mux.HandleFunc("GET /assets/crypto", assets.Crypto)
	mux.HandleFunc("GET /price/{asset}", prices.GetPrice)
	mux.HandleFunc("GET /ohlc/{market}", prices.GetCandles)

	mux.HandleFunc("GET /health", health.Check)

	mux.HandleFunc("GET /mode", modes.GetMode)
	mux.HandleFunc("POST /mode/test", modes.SwitchToTest)
	mux.HandleFunc("POST /mode/live", modes.SwitchToLive)

	return mux
}
