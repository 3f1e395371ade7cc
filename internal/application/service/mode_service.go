package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"marketdata/internal/domain/model"
	"marketdata/internal/domain/port"
)

// ModeService holds the current data mode (live or test) and serves prices
// from the provider bound to it.
type ModeService struct {
	currentMode model.DataMode
	providers   map[model.DataMode]port.PriceProvider
	mu          sync.RWMutex
	logger      *slog.Logger
}

func NewModeService(mode model.DataMode, providers map[model.DataMode]port.PriceProvider, logger *slog.Logger) *ModeService {
	return &ModeService{
		currentMode: mode,
		providers:   providers,
		logger:      logger,
	}
}

func (s *ModeService) SwitchMode(ctx context.Context, mode model.DataMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentMode == mode {
		return nil
	}
	if _, ok := s.providers[mode]; !ok {
		return fmt.Errorf("no price provider configured for %s mode", mode)
	}

	s.logger.Info("mode_service: mode updated", "old", s.currentMode, "new", mode)
	s.currentMode = mode
	return nil
}

func (s *ModeService) GetCurrentMode() model.DataMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentMode
}

// Name returns the name of the provider serving the current mode.
func (s *ModeService) Name() string {
	p, err := s.current()
	if err != nil {
		return "none"
	}
	return p.Name()
}

// FetchPrice delegates to the provider of the current mode.
func (s *ModeService) FetchPrice(ctx context.Context, market model.Market) (model.Price, error) {
	p, err := s.current()
	if err != nil {
		return model.Price{}, err
	}
	return p.FetchPrice(ctx, market)
}

func (s *ModeService) current() (port.PriceProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[s.currentMode]
	if !ok {
		return nil, fmt.Errorf("no price provider configured for %s mode", s.currentMode)
	}
	return p, nil
}
