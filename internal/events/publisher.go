package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/catalog-scraper/internal/database"
	"github.com/maltedev/catalog-scraper/internal/models"
)

type EventType string

const (
	// EventTypeProductScraped is recorded each time a vendor lookup stores a
	// product.
	EventTypeProductScraped EventType = "PRODUCT_SCRAPED"
)

type ProductScrapedPayload struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Vendor    string         `json:"vendor"`
	Product   models.Product `json:"product"`
	Source    string         `json:"source"`
}

type transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type productWriter interface {
	SaveProductWithTx(ctx context.Context, tx pgx.Tx, vendor string, p models.Product) error
	GetProduct(ctx context.Context, vendor string, gtin models.GTIN) (models.Product, bool, error)
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher is a product store that records a PRODUCT_SCRAPED outbox event
// in the same transaction as every saved product.
type Publisher struct {
	db       transactor
	products productWriter
	outbox   outboxWriter
	logger   *slog.Logger
	now      func() time.Time
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewProductStore(db), database.NewOutboxRepository(db), logger)
}

func newPublisher(db transactor, products productWriter, outbox outboxWriter, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:       db,
		products: products,
		outbox:   outbox,
		logger:   logger.With("component", "event_publisher"),
		now:      time.Now,
	}
}

func (p *Publisher) SaveProduct(ctx context.Context, vendor string, product models.Product) error {
	payload := &ProductScrapedPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypeProductScraped),
		Timestamp: p.now().UTC(),
		Vendor:    vendor,
		Product:   product,
		Source:    database.EventSource,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: database.AggregateProduct,
		AggregateID:   database.ProductKey(vendor, product.Identifier().String()),
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  database.StreamCatalogProducts,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.products.SaveProductWithTx(ctx, tx, vendor, product); err != nil {
			return err
		}
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"vendor", vendor,
		"gtin", product.Identifier(),
		"outbox_id", event.ID,
	)

	return nil
}

func (p *Publisher) GetProduct(ctx context.Context, vendor string, gtin models.GTIN) (models.Product, bool, error) {
	return p.products.GetProduct(ctx, vendor, gtin)
}
