package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bookguard/api"
	"bookguard/config"
	"bookguard/csrf"
	"bookguard/dedup"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"
)

// App represents the bookguard gateway with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	Storage *StorageComponents

	// Guards
	Guard *csrf.Guard
	Cache *dedup.Cache

	// Services
	APIServer *api.API

	serviceWg    *sync.WaitGroup
	shutdownOnce sync.Once
}

// NewApp loads configuration and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	logger, sugar, err := InitLogger("info")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sugar.Info("bookguard gateway starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}

	if cfg.Logging.Level != "info" {
		logger, _, err = InitLogger(cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	return NewAppWithConfig(ctx, cfg, logger, clock.New())
}

// NewAppWithConfig wires the components for an already loaded configuration.
func NewAppWithConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger, clk clock.Clock) (*App, error) {
	sugar := logger.Sugar()
	app := &App{
		Config:    cfg,
		Logger:    logger,
		Sugar:     sugar,
		serviceWg: &sync.WaitGroup{},
	}

	storage, err := InitTokenStore(ctx, cfg, clk, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = storage

	guard, err := csrf.NewGuard(cfg.CSRF, storage.TokenStore, sugar.Named("csrf"), csrf.WithClock(clk))
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to initialize CSRF guard: %w", err)
	}
	app.Guard = guard

	cache, err := dedup.New(cfg.Dedup, sugar.Named("dedup"), dedup.WithClock(clk))
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to initialize deduplication cache: %w", err)
	}
	app.Cache = cache

	var opts []api.Option
	if p := storage.Pinger(); p != nil {
		opts = append(opts, api.WithTokenStore(p))
	}
	server, err := api.NewAPI(cfg, guard, cache, sugar.Named("api"), opts...)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to initialize API server: %w", err)
	}
	app.APIServer = server

	sugar.Infow("Gateway initialized",
		"dedup_default_window", cfg.Dedup.DefaultWindow,
		"dedup_route_classes", len(cfg.Dedup.RouteClasses),
		"csrf_hard_expiry", cfg.CSRF.HardExpiry,
		"csrf_rotation_threshold", cfg.CSRF.RotationThreshold)

	return app, nil
}

// Start starts the sweeper and the API server.
func (a *App) Start(ctx context.Context) error {
	a.Cache.Start()
	return a.startAPIServer()
}

func (a *App) startAPIServer() error {
	addr := a.Config.Server.Addr
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		a.Sugar.Infof("API server started on %s", addr)
		if err := a.APIServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorf("API server error: %v", err)
		}
	}()
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received or ctx is done.
func (a *App) WaitForShutdown(ctx context.Context) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}
}

// Shutdown gracefully shuts down all components. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.Sugar.Info("Shutting down...")

	// Phase 1 - Stop accepting requests and drain in-flight ones
	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
	}

	// Phase 2 - Wait for service goroutines
	a.Sugar.Info("Phase 2: Waiting for service goroutines to complete...")
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped successfully")
	case <-time.After(a.Config.Server.ShutdownTimeout + 5*time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	// Phase 3 - Stop the sweeper once no request can touch the cache
	a.Sugar.Info("Phase 3: Stopping deduplication sweeper...")
	if a.Cache != nil {
		a.Cache.Stop()
	}

	// Phase 4 - Close the token store
	a.Sugar.Info("Phase 4: Closing token store...")
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Sugar.Errorw("Failed to close token store", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
