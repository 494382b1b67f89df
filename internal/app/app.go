package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/chrissnell/riverapi/internal/astrocast"
	"github.com/chrissnell/riverapi/internal/controllers/restserver"
	"github.com/chrissnell/riverapi/internal/database"
	"github.com/chrissnell/riverapi/internal/ingest"
	"github.com/chrissnell/riverapi/internal/log"
	"github.com/chrissnell/riverapi/internal/managers"
	"github.com/chrissnell/riverapi/internal/poller"
	"github.com/chrissnell/riverapi/internal/positions"
	"github.com/chrissnell/riverapi/internal/storage"
	"github.com/chrissnell/riverapi/pkg/config"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	store, err := database.Open(ctx, cfg.Storage.Database.Driver, cfg.Storage.Database.ConnectionString)
	if err != nil {
		return fmt.Errorf("error opening %s database: %w", cfg.Storage.Database.Driver, err)
	}
	defer store.Close()
	log.Infof("connected to %s database", cfg.Storage.Database.Driver)

	health := storage.NewHealthManager()
	storage.StartHealthMonitor(ctx, &wg, health, "database", storage.PingChecker{Name: "database", Ping: store.Ping}, managers.HealthCheckInterval)

	// Initialize the storage manager
	storageManager, err := managers.NewStorageManager(ctx, &wg, store, &cfg.Storage, health)
	if err != nil {
		return err
	}

	resolver := positions.NewResolver(store, cfg.Pipeline.SlotCount)

	ingestor := ingest.New(store, store, resolver, storageManager, ingest.Options{
		OutputRange:    cfg.Pipeline.OutputRange,
		Persist:        cfg.Pipeline.Persist(),
		HighResolution: cfg.Pipeline.HighRes(),
	}, log.Named("ingest"))

	client := astrocast.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.RequestTimeout())

	deps := restserver.Dependencies{
		Ingestor:        ingestor,
		Resolver:        resolver,
		Store:           store,
		Devices:         client,
		Health:          health,
		PersistReadings: cfg.Pipeline.Persist(),
		HighResolution:  cfg.Pipeline.HighRes(),
	}

	if cfg.Upstream.DisablePolling {
		log.Warn("message polling is disabled; only the REST API will ingest data")
	} else {
		p := poller.New(client, store, ingestor, cfg.Upstream.PollInterval(), poller.Backoff{
			Min: cfg.Upstream.RetryMinWait(),
			Max: cfg.Upstream.RetryMaxWait(),
		}, log.Named("poller"))
		p.Start(ctx, &wg)
		deps.Poller = p
	}

	rest, err := restserver.NewController(ctx, &wg, cfg.REST, deps, log.Named("rest"))
	if err != nil {
		return err
	}
	if err := rest.StartController(); err != nil {
		return err
	}

	log.Info("Application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	storageManager.Close()
	log.Info("shutdown complete")

	return nil
}
