package handler

import (
	"context"
	"log/slog"
	"net/http"

	"marketdata/internal/domain/model"
)

type AssetLister interface {
	GetAssets(ctx context.Context, kind model.AssetKind) ([]model.Asset, error)
}

type AssetHandler struct {
	assets       AssetLister
	cacheControl string
	logger       *slog.Logger
}

func NewAssetHandler(assets AssetLister, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{
		assets:       assets,
		cacheControl: maxAge(AssetListMaxAge),
		logger:       logger,
	}
}

func (h *AssetHandler) Fiat(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.Fiat)
}

func (h *AssetHandler) Crypto(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.Crypto)
}

func (h *AssetHandler) list(w http.ResponseWriter, r *http.Request, kind model.AssetKind) {
	assets, err := h.assets.GetAssets(r.Context(), kind)
	if err != nil {
		h.logger.Error("failed to list assets", "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if assets == nil {
		assets = []model.Asset{}
	}

	w.Header().Set("Cache-Control", h.cacheControl)
	writeJSON(w, http.StatusOK, assets)
}
