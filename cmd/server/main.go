package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/herdbook/internal/config"
	"github.com/JonMunkholm/herdbook/internal/core"
	"github.com/JonMunkholm/herdbook/internal/logging"
	"github.com/JonMunkholm/herdbook/internal/store/memory"
	"github.com/JonMunkholm/herdbook/internal/store/postgres"
	"github.com/JonMunkholm/herdbook/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"import_max_rows", cfg.Import.MaxRows,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	service, err := core.NewService(store, core.Options{
		MaxRows:            cfg.Import.MaxRows,
		PreviewTimeout:     cfg.Import.PreviewTimeout,
		Workers:            cfg.Import.Workers,
		MaxConcurrent:      cfg.Import.MaxConcurrent,
		MaxWaitTime:        cfg.Import.MaxWaitTime,
		SuggestionLimit:    cfg.Import.SuggestionLimit,
		MinSuggestionScore: cfg.Import.MinSuggestionScore,
		BatchWait:          cfg.Import.BatchWait,
		BreedCacheSize:     cfg.Cache.BreedCacheSize,
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Refuse new imports, then let running ones commit
		limiter := service.Limiter()
		limiter.Close()
		if active := limiter.ActiveCount(); active > 0 {
			slog.Info("waiting for imports to complete", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		closeStore()
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}

// openStore builds the configured core.Store. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (core.Store, func(), error) {
	if strings.EqualFold(cfg.Store.Driver, config.DriverMemory) {
		slog.Warn("using in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil
	}

	if cfg.Store.MigrateOnStart {
		if err := postgres.Migrate(cfg.Database.URL); err != nil {
			return nil, nil, err
		}
	}

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	if cfg.Store.SeedBreeds {
		n, err := postgres.SeedBreeds(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("system breeds seeded", "inserted", n)
	}

	return postgres.New(pool), pool.Close, nil
}
