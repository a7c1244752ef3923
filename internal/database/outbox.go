package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the number of failed deliveries after which an event
	// moves to dead letter.
	MaxRetryCount = 5

	// StreamCatalogProducts is the default target stream for outbox events.
	StreamCatalogProducts = "stream:catalog_products"

	// AggregateProduct is the aggregate type of catalog product events. Their
	// aggregate id is a ProductKey.
	AggregateProduct = "product"

	maxBackoff = 5 * time.Minute
)

var errIncompleteEvent = errors.New("incomplete outbox event")

// OutboxEvent is one row of the transactional outbox.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

func (e *OutboxEvent) validate() error {
	switch {
	case e.AggregateType == "":
		return fmt.Errorf("%w: aggregate type is required", errIncompleteEvent)
	case e.AggregateID == "":
		return fmt.Errorf("%w: aggregate id is required", errIncompleteEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: event type is required", errIncompleteEvent)
	case len(e.Payload) == 0:
		return fmt.Errorf("%w: payload is required", errIncompleteEvent)
	}
	return nil
}

// ProductKey is the aggregate id of a vendor's listing: "vendor/gtin".
func ProductKey(vendor, gtin string) string {
	return vendor + "/" + gtin
}

// SplitProductKey reverses ProductKey.
func SplitProductKey(key string) (vendor, gtin string, ok bool) {
	vendor, gtin, ok = strings.Cut(key, "/")
	if !ok || vendor == "" || gtin == "" {
		return "", "", false
	}
	return vendor, gtin, true
}

// OutboxRepository stores outbox events in the outbox_event table.
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository returns a repository over db.
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx fills in id, status, stream and timestamps where unset and
// writes the event inside tx.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if err := event.validate(); err != nil {
		return err
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = StreamCatalogProducts
	}

	now := time.Now().UTC()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type, payload,
			target_stream, status, retry_count, created_at, next_retry_at
		) VALUES (
			@id, @aggregate_type, @aggregate_id, @event_type, @payload,
			@target_stream, @status, @retry_count, @created_at, @next_retry_at
		)`, pgx.NamedArgs{
		"id":             event.ID,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"event_type":     event.EventType,
		"payload":        event.Payload,
		"target_stream":  event.TargetStream,
		"status":         event.Status,
		"retry_count":    event.RetryCount,
		"created_at":     event.CreatedAt,
		"next_retry_at":  event.NextRetryAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert outbox event for %s: %w", event.AggregateID, err)
	}
	return nil
}

const selectOutboxEvents = `
	SELECT id, aggregate_type, aggregate_id, event_type,
		payload, target_stream, status, retry_count,
		error_message, created_at, processed_at, next_retry_at
	FROM outbox_event`

// GetPending returns pending and failed events whose retry time has come,
// oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, selectOutboxEvents+`
	WHERE status = ANY($1) AND next_retry_at <= now()
	ORDER BY created_at
	LIMIT $2`,
		[]string{OutboxStatusPending, OutboxStatusFailed}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[OutboxEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to read pending events: %w", err)
	}
	return events, nil
}

// MarkProcessed marks a relayed event as delivered.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE outbox_event SET status = $1, processed_at = now(), error_message = NULL WHERE id = $2`,
		OutboxStatusProcessed, id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s as processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s not found", id)
	}
	return nil
}

// MarkFailed records processErr, bumps the retry count and schedules the
// next attempt. The row is locked while the count is read so two relays
// cannot lose a retry. The event moves to dead letter at MaxRetryCount.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		var retries int
		err := tx.QueryRow(ctx,
			`SELECT retry_count FROM outbox_event WHERE id = $1 FOR UPDATE`, id).Scan(&retries)
		if err != nil {
			return fmt.Errorf("failed to lock outbox event %s: %w", id, err)
		}

		retries++
		_, err = tx.Exec(ctx,
			`UPDATE outbox_event
			SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
			WHERE id = $5`,
			nextStatus(retries), retries, processErr.Error(), time.Now().Add(backoff(retries)), id)
		if err != nil {
			return fmt.Errorf("failed to mark event %s as failed: %w", id, err)
		}
		return nil
	})
}

// PendingCount counts events still waiting for delivery, failed ones included.
func (r *OutboxRepository) PendingCount(ctx context.Context) (int64, error) {
	return r.count(ctx, OutboxStatusPending, OutboxStatusFailed)
}

// DeadLetterCount counts events that ran out of retries.
func (r *OutboxRepository) DeadLetterCount(ctx context.Context) (int64, error) {
	return r.count(ctx, OutboxStatusDeadLetter)
}

func (r *OutboxRepository) count(ctx context.Context, statuses ...string) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox_event WHERE status = ANY($1)", statuses).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return count, nil
}

func nextStatus(retryCount int) string {
	if retryCount >= MaxRetryCount {
		return OutboxStatusDeadLetter
	}
	return OutboxStatusFailed
}

// backoff doubles from one second per retry, capped at five minutes.
func backoff(retryCount int) time.Duration {
	if retryCount > 9 {
		return maxBackoff
	}
	d := time.Duration(1<<retryCount) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
