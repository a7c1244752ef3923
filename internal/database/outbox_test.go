package database

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxEvent_Validate(t *testing.T) {
	repo := NewOutboxRepository(nil)

	testCases := []struct {
		name  string
		event *OutboxEvent
	}{
		{
			name: "missing aggregate type",
			event: &OutboxEvent{
				AggregateID: "acme/4006381333931",
				EventType:   "PRODUCT_SCRAPED",
				Payload:     json.RawMessage(`{}`),
			},
		},
		{
			name: "missing aggregate id",
			event: &OutboxEvent{
				AggregateType: "product",
				EventType:     "PRODUCT_SCRAPED",
				Payload:       json.RawMessage(`{}`),
			},
		},
		{
			name: "missing event type",
			event: &OutboxEvent{
				AggregateType: "product",
				AggregateID:   "acme/4006381333931",
				Payload:       json.RawMessage(`{}`),
			},
		},
		{
			name: "missing payload",
			event: &OutboxEvent{
				AggregateType: "product",
				AggregateID:   "acme/4006381333931",
				EventType:     "PRODUCT_SCRAPED",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// rejected before the transaction is used
			err := repo.InsertWithTx(context.Background(), nil, tc.event)
			assert.ErrorIs(t, err, errIncompleteEvent)
			assert.Equal(t, uuid.Nil, tc.event.ID)
		})
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{8, 256 * time.Second},
		{9, maxBackoff},
		{40, maxBackoff},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.retry), func(t *testing.T) {
			assert.Equal(t, tt.want, backoff(tt.retry))
		})
	}
}

func TestNextStatus(t *testing.T) {
	assert.Equal(t, OutboxStatusFailed, nextStatus(1))
	assert.Equal(t, OutboxStatusFailed, nextStatus(MaxRetryCount-1))
	assert.Equal(t, OutboxStatusDeadLetter, nextStatus(MaxRetryCount))
}

func TestProductKey(t *testing.T) {
	key := ProductKey("acme", "4006381333931")
	assert.Equal(t, "acme/4006381333931", key)

	vendor, gtin, ok := SplitProductKey(key)
	assert.True(t, ok)
	assert.Equal(t, "acme", vendor)
	assert.Equal(t, "4006381333931", gtin)

	for _, bad := range []string{"", "acme", "/4006381333931", "acme/"} {
		_, _, ok := SplitProductKey(bad)
		assert.False(t, ok, bad)
	}
}

func newEvent(id string) *OutboxEvent {
	return &OutboxEvent{
		AggregateType: "product",
		AggregateID:   id,
		EventType:     "PRODUCT_SCRAPED",
		Payload:       json.RawMessage(`{"vendor":"acme"}`),
	}
}

func TestOutboxRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	repo := NewOutboxRepository(db)

	t.Run("fills defaults", func(t *testing.T) {
		event := newEvent("acme/" + uuid.NewString())

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, StreamCatalogProducts, event.TargetStream)
		assert.False(t, event.CreatedAt.IsZero())
	})

	t.Run("rolled back with the transaction", func(t *testing.T) {
		event := newEvent("acme/" + uuid.NewString())

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)

		var count int
		require.NoError(t, db.pool.QueryRow(ctx,
			"SELECT COUNT(*) FROM outbox_event WHERE id = $1", event.ID).Scan(&count))
		assert.Zero(t, count)
	})
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	repo := NewOutboxRepository(db)

	event := newEvent("acme/" + uuid.NewString())
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))

	pending, err := repo.GetPending(ctx, 1000)
	require.NoError(t, err)
	assert.True(t, containsEvent(pending, event.ID))

	require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

	var status string
	var retryCount int
	var errorMsg *string
	require.NoError(t, db.pool.QueryRow(ctx,
		"SELECT status, retry_count, error_message FROM outbox_event WHERE id = $1",
		event.ID).Scan(&status, &retryCount, &errorMsg))
	assert.Equal(t, OutboxStatusFailed, status)
	assert.Equal(t, 1, retryCount)
	require.NotNil(t, errorMsg)
	assert.Contains(t, *errorMsg, "assert.AnError")

	// scheduled in the future, so not pending right now
	pending, err = repo.GetPending(ctx, 1000)
	require.NoError(t, err)
	assert.False(t, containsEvent(pending, event.ID))

	require.NoError(t, repo.MarkProcessed(ctx, event.ID))
	assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))
	assert.Error(t, repo.MarkFailed(ctx, uuid.New(), assert.AnError))
}

func TestOutboxRepository_DeadLetter(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	repo := NewOutboxRepository(db)

	event := newEvent("acme/" + uuid.NewString())
	event.RetryCount = MaxRetryCount - 1
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))

	before, err := repo.DeadLetterCount(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

	after, err := repo.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)
}

func containsEvent(events []*OutboxEvent, id uuid.UUID) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}

// setupTestDB connects to TEST_DB_HOST and migrates it. Tests skip when no
// test database is configured.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("Test database not configured")
	}

	port, _ := strconv.Atoi(os.Getenv("TEST_DB_PORT"))
	if port == 0 {
		port = 5432
	}

	ctx := context.Background()
	db, err := New(ctx, Config{
		Host:     host,
		Port:     port,
		User:     os.Getenv("TEST_DB_USER"),
		Password: os.Getenv("TEST_DB_PASSWORD"),
		Database: os.Getenv("TEST_DB_NAME"),
		MaxConns: 4,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))
	return db
}
