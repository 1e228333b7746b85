// Package app assembles the scribe components from configuration and runs
// the HTTP server alongside the background loops.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/seantiz/scribe/internal/alert"
	"github.com/seantiz/scribe/internal/api"
	"github.com/seantiz/scribe/internal/archive"
	"github.com/seantiz/scribe/internal/blob"
	"github.com/seantiz/scribe/internal/config"
	"github.com/seantiz/scribe/internal/dispatch"
	"github.com/seantiz/scribe/internal/events"
	"github.com/seantiz/scribe/internal/packaging"
	"github.com/seantiz/scribe/internal/retention"
	"github.com/seantiz/scribe/internal/service"
	"github.com/seantiz/scribe/internal/store"
	"github.com/seantiz/scribe/internal/tracker"
)

// App is a fully wired scribe server.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	store   store.Store
	broker  *events.Broker
	reaper  *dispatch.Manager
	sweeper *retention.Sweeper
	svc     *service.Service
	server  *api.Server
}

// New opens the store, applies catalog if non-nil and wires every component.
func New(ctx context.Context, cfg config.Config, catalog *config.Catalog, logger *slog.Logger) (*App, error) {
	for _, dir := range []string{cfg.ArchiveDir(), cfg.ModelsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	st, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if catalog != nil {
		if err := service.ApplyCatalog(ctx, st, catalog, logger); err != nil {
			st.Close()
			return nil, fmt.Errorf("apply catalog: %w", err)
		}
	}

	images, err := openImages(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	broker := events.NewBroker()
	archives := archive.New(cfg.ArchiveDir(), cfg.LockTimeout, logger)
	dm := dispatch.New(st, broker, cfg.LeaseTimeout, logger)
	svc := service.New(service.Deps{
		Store:     st,
		Dispatch:  dm,
		Tracker:   tracker.New(st, broker, logger),
		Packager:  packaging.New(st, cfg.ModelsDir()),
		Archives:  archives,
		Images:    images,
		Alerts:    alert.NewThrottler(st, alert.LogSender{Logger: logger}, cfg.AlertRecipients, cfg.AlertInterval, logger),
		Logger:    logger,
		PublicURL: cfg.PublicURL,
	})

	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		broker:  broker,
		reaper:  dm,
		sweeper: retention.New(st, archives, images, broker, cfg.Retention, logger),
		svc:     svc,
		server:  api.NewServer(cfg.ListenAddr, svc, broker, logger),
	}, nil
}

// openImages selects the image store named by the configured backend.
func openImages(ctx context.Context, cfg config.Config) (blob.Store, error) {
	if cfg.BlobBackend != "minio" {
		if err := os.MkdirAll(cfg.ImagesDir(), 0o755); err != nil {
			return nil, fmt.Errorf("create images dir: %w", err)
		}
		return blob.NewLocal(cfg.ImagesDir()), nil
	}

	m, err := blob.NewMinIO(blob.MinIOConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := m.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Server returns the HTTP server.
func (a *App) Server() *api.Server { return a.server }

// Run serves HTTP and runs the lease reaper and the retention sweep until
// ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() { a.reaper.RunReaper(ctx, a.cfg.ReapInterval) })
	wg.Go(func() { a.sweeper.Run(ctx, a.cfg.GCInterval) })

	a.logger.Info("scribe: starting",
		"listen_addr", a.cfg.ListenAddr,
		"db_driver", a.cfg.DBDriver,
		"blob_backend", a.cfg.BlobBackend,
		"lease_timeout", a.cfg.LeaseTimeout,
		"retention", a.cfg.Retention,
	)

	err := a.server.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}
