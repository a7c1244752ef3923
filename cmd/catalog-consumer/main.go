package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/catalog-scraper/internal/config"
	"github.com/maltedev/catalog-scraper/internal/events"
)

func main() {
	cfg, err := config.LoadConsumer()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	if cfg.Logging.Format == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	logger.Info("connected to redis", "addr", cfg.Redis.Addr)

	consumer := events.NewConsumer(rdb, events.ConsumerConfig{
		Stream: cfg.Stream,
		Group:  cfg.Group,
		Name:   cfg.Name,
	}, logProduct(logger), logger)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer failed", "error", err)
		os.Exit(1)
	}
	logger.Info("consumer stopped")
}

// logProduct reports every scraped listing and flags prices that break the
// vendor's minimum advertised price.
func logProduct(logger *slog.Logger) events.Handler {
	return func(ctx context.Context, e *events.ProductScrapedPayload) error {
		p := e.Product
		logger.Info("product scraped",
			"vendor", e.Vendor,
			"gtin", p.Identifier().String(),
			"sku", p.SKU(),
			"wholesale", p.Wholesale().String(),
			"msrp", p.MSRP().String(),
			"imap", p.IMAP().String(),
		)

		if imap := p.IMAP(); imap.IsPositive() {
			if p.MSRP().IsPositive() && p.MSRP().LessThan(imap) {
				logger.Warn("msrp below imap", "vendor", e.Vendor, "gtin", p.Identifier().String())
			}
			if p.Wholesale().GreaterThan(imap) {
				logger.Warn("wholesale above imap", "vendor", e.Vendor, "gtin", p.Identifier().String())
			}
		}
		return nil
	}
}
