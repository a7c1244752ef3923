package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventSource tags every relayed message.
const EventSource = "catalog-scraper"

var errInvalidPayload = errors.New("outbox payload is not valid JSON")

// RedisClient is the part of the redis client the relay writes with.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxRepo is the outbox as seen by the relay. *OutboxRepository
// implements it.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

// RelayConfig tunes polling and stream layout. Zero values take defaults.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// VendorStreams sends product events to "<target>:<vendor>" instead of
	// the shared target stream.
	VendorStreams bool
	// MaxLen trims each stream to roughly this many entries. Zero keeps all.
	MaxLen int64
}

// StreamEnvelope is the JSON document stored in the "data" field of every
// relayed stream entry.
type StreamEnvelope struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	AggregateType string           `json:"aggregate_type"`
	AggregateID   string           `json:"aggregate_id"`
	Timestamp     time.Time        `json:"timestamp"`
	Payload       json.RawMessage  `json:"payload"`
	Metadata      EnvelopeMetadata `json:"metadata"`
}

// EnvelopeMetadata says where a relayed entry came from.
type EnvelopeMetadata struct {
	Source       string `json:"source"`
	OutboxID     string `json:"outbox_id"`
	RetryCount   int    `json:"retry_count"`
	TargetStream string `json:"target_stream"`
}

// Relay moves outbox events to their redis streams.
type Relay struct {
	redis  RedisClient
	outbox OutboxRepo
	logger *slog.Logger
	cfg    RelayConfig
}

// NewRelay builds a relay that polls outbox every PollInterval (default 5s)
// for up to BatchSize (default 100) events.
func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Relay{
		redis:  redisClient,
		outbox: outbox,
		logger: logger.With("component", "relay"),
		cfg:    cfg,
	}
}

// Start relays one batch at once and then one per tick until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.cfg.PollInterval,
		"batch_size", r.cfg.BatchSize,
		"vendor_streams", r.cfg.VendorStreams)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.processEvents(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to relay outbox batch", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processEvents relays one batch. A failed event is marked and the batch
// goes on; a cancelled ctx ends the batch early.
func (r *Relay) processEvents(ctx context.Context) error {
	events, err := r.outbox.GetPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}

	relayed := 0
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		if err := r.processEvent(ctx, event); err != nil {
			r.logger.Error("failed to relay event",
				"event_id", event.ID,
				"aggregate_id", event.AggregateID,
				"retry_count", event.RetryCount,
				"error", err)
			continue
		}
		relayed++
	}

	if len(events) > 0 {
		r.logger.Debug("outbox batch relayed", "relayed", relayed, "fetched", len(events))
	}
	return nil
}

func (r *Relay) processEvent(ctx context.Context, event *OutboxEvent) error {
	args, err := r.streamEntry(event)
	if err == nil {
		_, err = r.redis.XAdd(ctx, args).Result()
		if err != nil {
			err = fmt.Errorf("failed to publish to redis: %w", err)
		}
	}
	if err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		return err
	}

	r.logger.Info("event relayed",
		"event_id", event.ID,
		"event_type", event.EventType,
		"aggregate_id", event.AggregateID,
		"stream", args.Stream)
	return nil
}

// streamEntry builds the XADD for event. Product events carry their vendor
// and barcode as separate fields so stream readers can filter without
// decoding the payload.
func (r *Relay) streamEntry(event *OutboxEvent) (*redis.XAddArgs, error) {
	if !json.Valid(event.Payload) {
		return nil, errInvalidPayload
	}

	stream := event.TargetStream
	if stream == "" {
		stream = StreamCatalogProducts
	}

	data, err := json.Marshal(StreamEnvelope{
		ID:            event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Timestamp:     event.CreatedAt.UTC(),
		Payload:       event.Payload,
		Metadata: EnvelopeMetadata{
			Source:       EventSource,
			OutboxID:     event.ID.String(),
			RetryCount:   event.RetryCount,
			TargetStream: stream,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream data: %w", err)
	}

	values := map[string]any{
		"data":           string(data),
		"event_type":     event.EventType,
		"outbox_id":      event.ID.String(),
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	if event.AggregateType == AggregateProduct {
		if vendor, gtin, ok := SplitProductKey(event.AggregateID); ok {
			values["vendor"] = vendor
			values["gtin"] = gtin
			if r.cfg.VendorStreams {
				stream = stream + ":" + vendor
			}
		}
	}

	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: r.cfg.MaxLen,
		Approx: r.cfg.MaxLen > 0,
		Values: values,
	}, nil
}

// Stats reports how many events wait for delivery and how many gave up.
func (r *Relay) Stats(ctx context.Context) (pending, deadLetter int64, err error) {
	if pending, err = r.outbox.PendingCount(ctx); err != nil {
		return 0, 0, err
	}
	if deadLetter, err = r.outbox.DeadLetterCount(ctx); err != nil {
		return 0, 0, err
	}
	return pending, deadLetter, nil
}

// Close closes the redis client.
func (r *Relay) Close() error {
	return r.redis.Close()
}
