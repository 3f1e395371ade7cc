package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"marketdata/internal/domain/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps resolver errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		notFound     *model.AssetNotFoundError
		notAvailable *model.PriceNotAvailableError
		refresh      *model.RefreshFailedError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &notAvailable):
		return http.StatusNotFound
	case errors.As(err, &refresh):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
