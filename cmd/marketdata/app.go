package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketdata/internal/adapter/cache"
	"marketdata/internal/adapter/exchange"
	"marketdata/internal/adapter/generator"
	"marketdata/internal/adapter/handler"
	"marketdata/internal/adapter/provider"
	"marketdata/internal/adapter/storage"
	"marketdata/internal/application/service"
	"marketdata/internal/application/usecase"
	"marketdata/internal/concurrency/fanin"
	"marketdata/internal/concurrency/worker"
	"marketdata/internal/domain/model"
	"marketdata/internal/domain/port"
	"marketdata/internal/infrastructure/config"
	"marketdata/internal/infrastructure/metrics"
	"marketdata/internal/infrastructure/server"
)

const testGeneratorName = "test-generator"

type App struct {
	config             *config.Config
	logger             *slog.Logger
	server             *server.Server
	metricsServer      *server.Server
	metrics            *metrics.Metrics
	storageAdapter     *storage.SQLAdapter
	cacheAdapter       *cache.RedisAdapter
	marketCache        *service.MarketCache
	priceUseCase       *usecase.PriceUseCase
	aggregationService *service.AggregationService
	modeService        *service.ModeService
	markets            []model.Market
	exchanges          []port.ExchangePort
	cancel             context.CancelFunc
	mu                 sync.Mutex
}

// NewApp connects the stores and wires every component. Nothing runs until Run.
func NewApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	mode, err := model.ParseDataMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLAdapter(cfg.Storage.Driver, cfg.StorageDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Storage.Driver, err)
	}
	store.SetPool(cfg.PostgreSQL.MaxOpenConns, cfg.PostgreSQL.MaxIdleConns, cfg.PostgreSQL.ConnMaxLifetime)

	if err := migrate(ctx, store, cfg); err != nil {
		store.Close()
		return nil, err
	}

	markets, err := store.Markets(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}

	app := &App{
		config:         cfg,
		logger:         log,
		storageAdapter: store,
		markets:        markets,
	}

	cacheOpts := []service.CacheOption{service.WithRefreshTimeout(cfg.MarketData.RefreshTimeout)}
	if cfg.Server.MetricsPort > 0 {
		app.metrics = metrics.New()
		cacheOpts = append(cacheOpts, service.WithMetrics(app.metrics))
	}
	if cfg.Redis.Enabled {
		redisAdapter, err := cache.NewRedisAdapter(cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB,
			cfg.Redis.MarketTTL, cfg.Redis.TickTTL)
		if err != nil {
			store.Close()
			return nil, err
		}
		app.cacheAdapter = redisAdapter
		cacheOpts = append(cacheOpts, service.WithBacking(redisAdapter))
	}
	app.marketCache = service.NewMarketCache(log, cacheOpts...)

	testProvider := generator.NewTestGenerator(testGeneratorName, nil, 0, log)
	providers := map[model.DataMode]port.PriceProvider{model.TestMode: testProvider}
	switch cfg.Provider.Name {
	case "http":
		providers[model.LiveMode] = provider.NewHTTPProvider(cfg.Provider.BaseURL, cfg.Provider.Timeout, cfg.Provider.Retries, log)
	case "generator":
		providers[model.LiveMode] = testProvider
	}
	app.modeService = service.NewModeService(mode, providers, log)

	strategy, err := usecase.NewPairStrategy(cfg.MarketData.PairStrategy)
	if err != nil {
		app.closeStores()
		return nil, err
	}
	app.priceUseCase = usecase.NewPriceUseCase(store, store, store, strategy, app.marketCache, app.modeService, log)

	if app.cacheAdapter != nil {
		app.aggregationService = service.NewAggregationService(app.cacheAdapter, store, store, cfg.MarketData.TickRetention, log)
	}

	var cachePinger handler.Pinger
	if app.cacheAdapter != nil {
		cachePinger = app.cacheAdapter
	}
	priceHandler := handler.NewPriceHandler(app.priceUseCase, log)
	if app.metrics != nil {
		priceHandler.WithMetrics(app.metrics)
		app.metricsServer = server.NewServer(cfg.Server.MetricsPort, app.metrics.Router(), server.Timeouts{}, log)
	}
	router := handler.NewRouter(
		priceHandler,
		handler.NewAssetHandler(app.priceUseCase, log),
		handler.NewHealthHandler(store, cachePinger, log),
		handler.NewModeHandler(app, log),
	)
	app.server = server.NewServer(cfg.Server.Port, router, server.Timeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
	}, log)

	return app, nil
}

// Run serves HTTP and runs the background loops until ctx is done.
func (a *App) Run(ctx context.Context) error {
	defer a.closeStores()

	ids := make([]model.MarketID, 0, len(a.markets))
	for _, m := range a.markets {
		ids = append(ids, m.ID)
	}
	a.marketCache.Warm(ctx, ids)

	if a.aggregationService != nil {
		a.aggregationService.Start(ctx, a.config.MarketData.AggregationInterval)
		defer a.aggregationService.Stop()
	}

	go service.NewPoller(a.storageAdapter, a.priceUseCase, a.logger).Run(ctx, a.config.MarketData.PollInterval)

	a.mu.Lock()
	ingestCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	err := a.startDataProcessing(ingestCtx)
	a.mu.Unlock()
	if err != nil {
		a.logger.Warn("no push feeds running, prices are served by the provider only", "error", err)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- a.server.Start()
	}()
	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.Start(); err != nil {
				errCh <- fmt.Errorf("metrics: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		a.stopFeeds()
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down gracefully")
	return a.shutdown()
}

func (a *App) GetCurrentMode() model.DataMode {
	return a.modeService.GetCurrentMode()
}

// SwitchMode switches the price provider and restarts the push feeds of the new mode.
func (a *App) SwitchMode(ctx context.Context, newMode model.DataMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.modeService.GetCurrentMode() == newMode {
		return nil
	}
	if err := a.modeService.SwitchMode(ctx, newMode); err != nil {
		return err
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.closeExchanges()

	// feeds outlive the request that switched them
	ingestCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.startDataProcessing(ingestCtx); err != nil {
		a.logger.Warn("no push feeds running after mode switch", "mode", newMode, "error", err)
	}
	return nil
}

// startDataProcessing must be called with a.mu held.
func (a *App) startDataProcessing(ctx context.Context) error {
	var exchanges []port.ExchangePort

	if a.modeService.GetCurrentMode() == model.LiveMode {
		for _, exCfg := range a.config.Exchanges {
			if !exCfg.Enabled {
				continue
			}
			switch exCfg.Kind {
			case "tcp":
				exchanges = append(exchanges, exchange.NewTCPExchange(exCfg.Name, exCfg.Host, exCfg.Port, a.logger))
			case "ws":
				exchanges = append(exchanges, exchange.NewWSExchange(exCfg.Name, exCfg.URL, a.logger))
			case "generator":
				exchanges = append(exchanges, generator.NewTestGenerator(exCfg.Name, nil, 0, a.logger))
			}
		}
	} else {
		exchanges = append(exchanges, generator.NewTestGenerator(testGeneratorName, nil, 0, a.logger))
	}

	if len(exchanges) == 0 {
		return errors.New("no exchanges enabled")
	}

	ids := make([]model.MarketID, 0, len(a.markets))
	for _, m := range a.markets {
		ids = append(ids, m.ID)
	}

	priceChannels := make([]<-chan model.PriceUpdate, 0, len(exchanges))
	for _, ex := range exchanges {
		if err := ex.Subscribe(ids); err != nil {
			a.logger.Warn("failed to subscribe", "exchange", ex.Name(), "error", err)
		}
		priceChannels = append(priceChannels, a.runFeed(ctx, ex))
	}
	a.exchanges = exchanges

	var ticks worker.TickWriter
	if a.cacheAdapter != nil {
		ticks = a.cacheAdapter
	}
	workerPool := worker.NewPool(
		a.config.Workers.PerExchange*len(exchanges),
		a.markets,
		a.marketCache,
		ticks,
		a.logger,
	)
	processedCh := workerPool.Start(ctx, fanin.FanIn(ctx, priceChannels...))

	go func() {
		for range processedCh {
		}
	}()

	a.logger.Info("data processing started",
		"exchanges", len(exchanges),
		"workers", a.config.Workers.PerExchange*len(exchanges))

	return nil
}

// runFeed keeps ex connected until ctx is done, reconnecting with backoff.
// The returned channel survives reconnects and closes with ctx.
func (a *App) runFeed(ctx context.Context, ex port.ExchangePort) <-chan model.PriceUpdate {
	out := make(chan model.PriceUpdate)

	go func() {
		defer close(out)

		backoff := time.Second
		maxBackoff := 30 * time.Second

		for {
			if err := ex.Connect(ctx); err != nil {
				a.logger.Error("failed to connect", "exchange", ex.Name(), "error", err, "retry_in", backoff)
			} else {
				backoff = time.Second
				priceCh, errCh := ex.ReadPrices(ctx)
				for update := range priceCh {
					select {
					case out <- update:
					case <-ctx.Done():
					}
				}
				for err := range errCh {
					a.logger.Error("exchange error", "exchange", ex.Name(), "error", err)
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				a.logger.Info("attempting to reconnect", "exchange", ex.Name())
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()

	return out
}

func (a *App) stopFeeds() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.closeExchanges()
}

// closeExchanges must be called with a.mu held.
func (a *App) closeExchanges() {
	for _, ex := range a.exchanges {
		if err := ex.Close(); err != nil {
			a.logger.Error("failed to close exchange", "exchange", ex.Name(), "error", err)
		}
	}
	a.exchanges = nil
}

func (a *App) shutdown() error {
	a.stopFeeds()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("failed to shut down metrics server", "error", err)
		}
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeStores() {
	if a.cacheAdapter != nil {
		if err := a.cacheAdapter.Close(); err != nil {
			a.logger.Warn("failed to close redis", "error", err)
		}
	}
	if err := a.storageAdapter.Close(); err != nil {
		a.logger.Warn("failed to close storage", "error", err)
	}
}
