package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/catalog-scraper/internal/api"
	"github.com/maltedev/catalog-scraper/internal/config"
	"github.com/maltedev/catalog-scraper/internal/database"
	"github.com/maltedev/catalog-scraper/internal/events"
	"github.com/maltedev/catalog-scraper/internal/jobs"
	"github.com/maltedev/catalog-scraper/internal/ratelimit"
	"github.com/maltedev/catalog-scraper/internal/storage"
	"github.com/maltedev/catalog-scraper/internal/vendors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("catalog-scraper failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	vendorFile, err := config.LoadVendors(cfg.Scraper.VendorsFile)
	if err != nil {
		return err
	}
	enabled, err := vendorFile.Enabled(cfg.Scraper.EnabledVendors)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.cleanup()

	sessions, err := newSessionFactory(cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer sessions.Close()

	runners := make([]*jobs.Runner, 0, len(enabled))
	for _, vc := range enabled {
		session, err := sessions.New()
		if err != nil {
			return fmt.Errorf("failed to open session for %s: %w", vc.Name, err)
		}
		limiter := ratelimit.NewAdaptiveRateLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax)
		runners = append(runners, jobs.NewRunner(vc.Name, vendors.NewConfigured(session, vc, logger), st.products, limiter, logger))
	}
	registry := jobs.NewRegistry(runners...)
	defer registry.Close()

	logger.Info("vendors ready", "vendors", registry.Names(), "backend", cfg.Browser.Backend)

	// a lookup may wait for the rate limiter and then every browser command
	timeout := cfg.Browser.WaitAtMost*4 + cfg.Scraper.RateLimitMax
	handlers := api.NewHandlers(registry, st.counter, st.outbox, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, timeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

type stores struct {
	products jobs.ProductStore
	counter  api.ProductCounter
	outbox   api.OutboxStats
	cleanup  func()
}

// openStore picks postgres when DB_HOST is set and the JSON file store
// otherwise. With postgres and REDIS_ADDR the outbox relay is started too.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if !cfg.HasDatabase() {
		fs, err := storage.NewFileStore(cfg.Scraper.StoreFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open store file: %w", err)
		}
		logger.Info("storing products in file", "file", cfg.Scraper.StoreFile)
		return &stores{products: fs, counter: fs, cleanup: func() {}}, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	products := database.NewProductStore(db)
	if cfg.Redis.Addr == "" {
		logger.Info("storing products in database, events not relayed")
		return &stores{products: products, counter: products, cleanup: db.Close}, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, logger, database.RelayConfig{
		PollInterval:  5 * time.Second,
		BatchSize:     100,
		VendorStreams: cfg.Redis.VendorStreams,
		MaxLen:        cfg.Redis.StreamMaxLen,
	})
	go func() {
		if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("relay stopped with error", "error", err)
		}
	}()

	cleanup := func() {
		if err := relay.Close(); err != nil {
			logger.Error("failed to close redis", "error", err)
		}
		db.Close()
	}

	logger.Info("storing products in database, relaying events", "redis", cfg.Redis.Addr)
	return &stores{
		products: events.NewPublisher(db, logger),
		counter:  products,
		outbox:   relay,
		cleanup:  cleanup,
	}, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
