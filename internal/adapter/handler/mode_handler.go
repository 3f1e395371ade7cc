package handler

import (
	"context"
	"log/slog"
	"net/http"

	"marketdata/internal/domain/model"
)

type ModeSwitcher interface {
	GetCurrentMode() model.DataMode
	SwitchMode(ctx context.Context, mode model.DataMode) error
}

type ModeHandler struct {
	modes ModeSwitcher
	log   *slog.Logger
}

func NewModeHandler(modes ModeSwitcher, log *slog.Logger) *ModeHandler {
	return &ModeHandler{
		modes: modes,
		log:   log,
	}
}

func (h *ModeHandler) SwitchToTest(w http.ResponseWriter, r *http.Request) {
	h.log.Info("received request to switch to test mode")
	h.switchMode(w, r, model.TestMode)
}

func (h *ModeHandler) SwitchToLive(w http.ResponseWriter, r *http.Request) {
	h.log.Info("received request to switch to live mode")
	h.switchMode(w, r, model.LiveMode)
}

func (h *ModeHandler) GetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"mode": h.modes.GetCurrentMode().String()})
}

func (h *ModeHandler) switchMode(w http.ResponseWriter, r *http.Request, mode model.DataMode) {
	currentMode := h.modes.GetCurrentMode()

	if currentMode == mode {
		h.log.Info("already in requested mode", "mode", mode)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "already in requested mode"})
		return
	}

	h.log.Info("switching mode", "from", currentMode, "to", mode)

	if err := h.modes.SwitchMode(r.Context(), mode); err != nil {
		h.log.Error("switch mode failed", "from", currentMode, "to", mode, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to switch mode")
		return
	}

	h.log.Info("mode switched successfully", "new_mode", mode)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": mode.String()})
}
