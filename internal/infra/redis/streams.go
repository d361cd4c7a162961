package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/infra/broker"
)

// Stream entry field names
const (
	fieldValue   = "value"
	fieldKey     = "key"
	fieldHeaders = "headers"
)

// StreamBroker implements broker.Broker on Redis Streams. Each topic is a
// stream consumed through one consumer group.
type StreamBroker struct {
	client      *Client
	group       string
	concurrency int
	minIdle     time.Duration
	block       time.Duration
	instance    string
	log         *slog.Logger
}

// NewStreamBroker creates a Redis Streams broker.
func NewStreamBroker(client *Client, cfg broker.Config, minIdle time.Duration) *StreamBroker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if minIdle <= 0 {
		minIdle = 30 * time.Second
	}
	return &StreamBroker{
		client:      client,
		group:       cfg.Group,
		concurrency: concurrency,
		minIdle:     minIdle,
		block:       2 * time.Second,
		instance:    uuid.NewString()[:8],
		log:         slog.Default().With("component", "redis-streams"),
	}
}

// Publish appends msg to the topic stream.
func (b *StreamBroker) Publish(ctx context.Context, topic string, msg domain.Message) error {
	values, err := encodeFields(msg)
	if err != nil {
		return err
	}

	if err := b.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s failed: %w", topic, err)
	}
	return nil
}

// Subscribe reads topic through the consumer group until ctx is cancelled.
// Entries are acknowledged only after the handler succeeded; failed entries
// stay pending and are reclaimed once idle for minIdle.
func (b *StreamBroker) Subscribe(ctx context.Context, topic string, handler broker.Handler) error {
	if err := b.ensureGroup(ctx, topic); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < b.concurrency; i++ {
		consumer := fmt.Sprintf("%s-%s-%d", b.group, b.instance, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.readLoop(ctx, topic, consumer, handler)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.reclaimLoop(ctx, topic, fmt.Sprintf("%s-%s-reclaim", b.group, b.instance), handler)
	}()

	wg.Wait()
	return nil
}

func (b *StreamBroker) ensureGroup(ctx context.Context, topic string) error {
	err := b.client.rdb.XGroupCreateMkStream(ctx, topic, b.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", b.group, topic, err)
	}
	return nil
}

func (b *StreamBroker) readLoop(ctx context.Context, topic, consumer string, handler broker.Handler) {
	for ctx.Err() == nil {
		streams, err := b.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: consumer,
			Streams:  []string{topic, ">"},
			Count:    10,
			Block:    b.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			b.log.Warn("XREADGROUP failed", "topic", topic, "consumer", consumer, "error", err)
			sleep(ctx, time.Second)
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				b.deliver(ctx, topic, entry, handler)
			}
		}
	}
}

func (b *StreamBroker) reclaimLoop(ctx context.Context, topic, consumer string, handler broker.Handler) {
	ticker := time.NewTicker(b.minIdle / 2)
	defer ticker.Stop()

	start := "0-0"
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, next, err := b.client.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   topic,
				Group:    b.group,
				Consumer: consumer,
				MinIdle:  b.minIdle,
				Start:    start,
				Count:    10,
			}).Result()
			if err != nil {
				if ctx.Err() == nil {
					b.log.Warn("XAUTOCLAIM failed", "topic", topic, "error", err)
				}
				continue
			}
			start = next

			for _, entry := range entries {
				b.log.Info("Reclaimed pending entry", "topic", topic, "id", entry.ID)
				b.deliver(ctx, topic, entry, handler)
			}
		}
	}
}

func (b *StreamBroker) deliver(ctx context.Context, topic string, entry redis.XMessage, handler broker.Handler) {
	msg, err := decodeFields(entry.Values)
	if err != nil {
		// Cannot ever be handled; drop it from the pending list
		b.log.Error("Bad stream entry", "topic", topic, "id", entry.ID, "error", err)
		b.ack(ctx, topic, entry.ID)
		return
	}

	if err := handler(ctx, msg); err != nil {
		b.log.Warn("Handler failed, entry left pending", "topic", topic, "id", entry.ID, "error", err)
		return
	}
	b.ack(ctx, topic, entry.ID)
}

func (b *StreamBroker) ack(ctx context.Context, topic, id string) {
	if err := b.client.rdb.XAck(ctx, topic, b.group, id).Err(); err != nil {
		b.log.Warn("XACK failed", "topic", topic, "id", id, "error", err)
	}
}

// Ping checks the connection.
func (b *StreamBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

// Close closes the underlying client.
func (b *StreamBroker) Close() error {
	return b.client.Close()
}

func encodeFields(msg domain.Message) (map[string]interface{}, error) {
	values := map[string]interface{}{
		fieldValue: string(msg.Value),
	}
	if msg.Key != "" {
		values[fieldKey] = msg.Key
	}
	if len(msg.Headers) > 0 {
		headers, err := json.Marshal(msg.Headers)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal headers: %w", err)
		}
		values[fieldHeaders] = string(headers)
	}
	return values, nil
}

func decodeFields(values map[string]interface{}) (domain.Message, error) {
	raw, ok := values[fieldValue].(string)
	if !ok {
		return domain.Message{}, fmt.Errorf("missing %q field", fieldValue)
	}

	msg := domain.Message{Value: []byte(raw)}
	if key, ok := values[fieldKey].(string); ok {
		msg.Key = key
	}
	if headers, ok := values[fieldHeaders].(string); ok && headers != "" {
		if err := json.Unmarshal([]byte(headers), &msg.Headers); err != nil {
			return domain.Message{}, fmt.Errorf("invalid headers: %w", err)
		}
	}
	return msg, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
