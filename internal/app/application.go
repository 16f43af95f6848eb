package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"tapdeck/internal/api"
	"tapdeck/internal/config"
	"tapdeck/internal/database"
	"tapdeck/internal/hub"
	"tapdeck/internal/kiosk"
	"tapdeck/internal/logging"
	"tapdeck/internal/quota"
	"tapdeck/internal/resolver"
	pkgdatabase "tapdeck/pkg/database"
)

// Application wires all components in dependency order:
// database -> quota/resolver -> registry -> hub -> api -> http.
type Application struct {
	config     *config.Config
	logger     zerolog.Logger
	dbManager  *database.Manager
	quotaStore *quota.Store
	registry   *kiosk.Registry
	sessionHub *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	cancelAux  context.CancelFunc
}

// NewApplication builds the full daemon from configuration. Nothing starts
// serving until Start is called.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	// Database foundation layer. The data directory may not exist on first
	// run.
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}
	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB())
	if err := migrationManager.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	logger.Info().Msg("database migrations applied")

	// Quota accounting and chip resolution on top of the store.
	quotaStore := quota.NewStore(dbManager, logger)
	chipResolver := resolver.NewResolver(dbManager, logger)

	// Sessions left active by a previous run are closed out before any new
	// scan can double-count watched time.
	reconciled, err := quotaStore.ReconcileOrphans(context.Background())
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to reconcile orphaned sessions: %w", err)
	}
	if reconciled > 0 {
		logger.Warn().Int("count", reconciled).Msg("reconciled orphaned watch sessions")
	}

	// Kiosk transport and the hub that owns per-kiosk controllers.
	registry := kiosk.NewRegistry(logger)
	sessionHub := hub.NewHub(chipResolver, quotaStore, registry, hub.Config{
		HeartbeatBase: cfg.Heartbeat.BaseInterval,
		HeartbeatMax:  cfg.Heartbeat.MaxInterval,
		BackoffFactor: cfg.Heartbeat.BackoffFactor,
	}, logger)

	wsHandler := kiosk.NewHandler(registry, sessionHub, logger)
	apiServer := api.NewServer(sessionHub, dbManager, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		dbManager:  dbManager,
		quotaStore: quotaStore,
		registry:   registry,
		sessionHub: sessionHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins serving. The hub starts first so kiosk events have somewhere
// to go before the first connection arrives.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info().Str("addr", app.httpServer.Addr).Msg("starting tapdeck")

	if err := app.sessionHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	auxCtx, cancel := context.WithCancel(context.Background())
	app.cancelAux = cancel
	app.apiServer.StartCleanupLoop(auxCtx)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.sessionHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info().Msg("tapdeck started")
		return nil
	case <-ctx.Done():
		_ = app.sessionHub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order:
// HTTP -> hub (ends active sessions) -> kiosk sockets -> database.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("shutting down tapdeck")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	if app.cancelAux != nil {
		app.cancelAux()
	}

	if err := app.sessionHub.Stop(); err != nil {
		app.logger.Warn().Err(err).Msg("hub shutdown error")
	}

	app.registry.CloseAll()

	if err := app.dbManager.Close(); err != nil {
		app.logger.Warn().Err(err).Msg("database shutdown error")
	}

	app.logger.Info().Msg("tapdeck shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
