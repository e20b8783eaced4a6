package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/config"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/core"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/filestore"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/logging"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/settings"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/store/postgres"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/store/sqlite"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/web"
)

// backend is what the server needs from a database store.
type backend interface {
	core.Store
	settings.Source
	web.Pinger
}

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("configuration", "config", cfg.String())

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	files, err := filestore.NewLocal(cfg.Upload.StorageDir)
	if err != nil {
		slog.Error("failed to open upload storage", "error", err)
		os.Exit(1)
	}

	defaults := expiry.Thresholds{CriticalDays: cfg.License.CriticalDays, WarningDays: cfg.License.WarningDays}
	provider := settings.NewCached(store, defaults, cfg.License.SettingsCacheTTL)

	service, err := core.NewService(store, files, provider, core.Options{
		MaxFileSize:          cfg.Upload.MaxFileSize,
		AllowedContentTypes:  cfg.Upload.AllowedContentTypes,
		MaxConcurrentUploads: cfg.Upload.MaxConcurrent,
		MaxUploadWait:        cfg.Upload.MaxWaitTime,
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg, store)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active uploads to finish parsing before the listener closes
		if status := service.UploadLimiterStatus(); status.Active > 0 {
			slog.Info("waiting for uploads to complete", "active", status.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			} else {
				slog.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Error("server stopped", "error", err)
		closeStore()
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// openStore migrates (when configured) and opens the store selected by
// DATABASE_DRIVER. The returned func closes it.
func openStore(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		if cfg.Database.MigrateOnStart {
			if err := sqlite.Migrate(ctx, cfg.Database.URL); err != nil {
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		store, err := sqlite.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Warn("failed to close database", "error", err)
			}
		}, nil

	case config.DriverPostgres:
		if cfg.Database.MigrateOnStart {
			if err := postgres.Migrate(ctx, cfg.Database.URL); err != nil {
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pool, err := postgres.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}
