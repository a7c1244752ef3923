package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/catalog-scraper/internal/database"
)

// StreamReader is the subset of the redis client a Consumer needs.
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Handler receives every PRODUCT_SCRAPED event. A returned error leaves the
// message in this consumer's pending list; it is handed to the handler again
// on the next pass over that list, up to MaxAttempts times in all.
type Handler func(ctx context.Context, event *ProductScrapedPayload) error

// ConsumerConfig names the stream, group and member. Zero values take
// defaults.
type ConsumerConfig struct {
	Stream string
	Group  string
	Name   string
	Block  time.Duration
	// MaxAttempts is how often a message is tried before it is acknowledged
	// and dropped.
	MaxAttempts int
}

const readCount = 10

// Consumer reads relayed outbox events from a redis stream as a member of a
// consumer group. It is not safe for concurrent use; run one Run per
// Consumer.
type Consumer struct {
	redis   StreamReader
	cfg     ConsumerConfig
	handler Handler
	logger  *slog.Logger

	// backlog is set while this member's pending list may hold entries.
	backlog  bool
	cursor   string
	retry    bool
	attempts map[string]int
}

func NewConsumer(rdb StreamReader, cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = database.StreamCatalogProducts
	}
	if cfg.Group == "" {
		cfg.Group = "catalog-consumer-group"
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}

	return &Consumer{
		redis:    rdb,
		cfg:      cfg,
		handler:  handler,
		logger:   logger.With("component", "consumer", "stream", cfg.Stream),
		backlog:  true,
		cursor:   "0",
		attempts: make(map[string]int),
	}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "group", c.cfg.Group)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// poll reads one batch. While the backlog flag is set it walks this member's
// pending entries from cursor (those never block) instead of reading new
// ones, so messages left unacknowledged by a failed handler come back. A
// pending pass with failures is followed by one read of new messages before
// the pending list is walked again.
func (c *Consumer) poll(ctx context.Context) error {
	pendingPass := c.backlog
	id, block := ">", c.cfg.Block
	if pendingPass {
		if c.cursor == "0" {
			c.retry = false
		}
		id, block = c.cursor, -1
	}

	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, id},
		Count:    readCount,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		if pendingPass {
			c.backlog, c.cursor = false, "0"
		} else {
			c.backlog = c.retry
		}
		return nil
	}
	if err != nil {
		return err
	}

	read, failed, last := 0, false, ""
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			read++
			last = msg.ID
			if !c.handle(ctx, msg) {
				failed = true
			}
		}
	}

	if !pendingPass {
		c.backlog = failed || c.retry
		return nil
	}

	c.retry = c.retry || failed
	if read == readCount {
		c.cursor = last
	} else {
		c.backlog, c.cursor = false, "0"
	}
	return nil
}

// handle processes msg and acknowledges it unless it failed and has
// attempts left. It reports whether msg was acknowledged.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) bool {
	if err := c.process(ctx, msg); err != nil {
		c.attempts[msg.ID]++
		attempt := c.attempts[msg.ID]
		if attempt < c.cfg.MaxAttempts {
			c.logger.Error("failed to process message", "id", msg.ID, "attempt", attempt, "error", err)
			return false
		}
		c.logger.Error("dropping message after repeated failures", "id", msg.ID, "attempts", attempt, "error", err)
	}
	delete(c.attempts, msg.ID)

	if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
		return false
	}
	return true
}

// process hands product events to the handler. Other event types are
// acknowledged without handling.
func (c *Consumer) process(ctx context.Context, msg redis.XMessage) error {
	if eventType, _ := msg.Values["event_type"].(string); eventType != string(EventTypeProductScraped) {
		return nil
	}

	event, err := DecodeMessage(msg)
	if err != nil {
		return err
	}
	return c.handler(ctx, event)
}

// DecodeMessage reads the payload out of a message written by the relay.
func DecodeMessage(msg redis.XMessage) (*ProductScrapedPayload, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no data field", msg.ID)
	}

	var envelope database.StreamEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if len(envelope.Payload) == 0 {
		return nil, fmt.Errorf("message %s has no payload", msg.ID)
	}

	var event ProductScrapedPayload
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	return &event, nil
}
