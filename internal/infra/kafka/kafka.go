// Package kafka implements the topic transport on Apache Kafka.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/infra/broker"
)

// Config holds Kafka connection configuration.
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	MinBytes     int           `yaml:"min_bytes"`
	MaxBytes     int           `yaml:"max_bytes"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// Broker implements broker.Broker with one shared writer and one reader per
// subscription worker.
type Broker struct {
	cfg           Config
	group         string
	concurrency   int
	retryInterval time.Duration
	writer        *kafka.Writer
	log           *slog.Logger
}

// NewBroker creates a Kafka broker. Connections are opened lazily.
func NewBroker(cfg Config, bcfg broker.Config) (*Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	concurrency := bcfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	retryInterval := bcfg.RedeliveryInterval
	if retryInterval <= 0 {
		retryInterval = time.Second
	}

	return &Broker{
		cfg:           cfg,
		group:         bcfg.Group,
		concurrency:   concurrency,
		retryInterval: retryInterval,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           cfg.BatchTimeout,
		},
		log: slog.Default().With("component", "kafka"),
	}, nil
}

// Publish writes msg to topic and waits for the acks.
func (b *Broker) Publish(ctx context.Context, topic string, msg domain.Message) error {
	if err := b.writer.WriteMessages(ctx, toKafkaMessage(topic, msg)); err != nil {
		return fmt.Errorf("kafka write to %s failed: %w", topic, err)
	}
	return nil
}

// Subscribe consumes topic in the consumer group. Offsets are committed only
// after the handler succeeded; a failing message is handled again every
// retryInterval until it succeeds or ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler broker.Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < b.concurrency; i++ {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  b.cfg.Brokers,
			GroupID:  b.group,
			Topic:    topic,
			MinBytes: b.cfg.MinBytes,
			MaxBytes: b.cfg.MaxBytes,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()
			b.readLoop(ctx, topic, reader, handler)
		}()
	}

	wg.Wait()
	return nil
}

func (b *Broker) readLoop(ctx context.Context, topic string, reader *kafka.Reader, handler broker.Handler) {
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warn("Fetch failed", "topic", topic, "error", err)
			sleep(ctx, time.Second)
			continue
		}

		msg := fromKafkaMessage(m)
		for {
			err := handler(ctx, msg)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			b.log.Warn("Handler failed, retrying",
				"topic", topic, "partition", m.Partition, "offset", m.Offset, "error", err)
			sleep(ctx, b.retryInterval)
		}

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			b.log.Warn("Commit failed", "topic", topic, "offset", m.Offset, "error", err)
		}
	}
}

// Ping dials the first reachable broker.
func (b *Broker) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range b.cfg.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Close flushes and closes the writer.
func (b *Broker) Close() error {
	return b.writer.Close()
}

func toKafkaMessage(topic string, msg domain.Message) kafka.Message {
	km := kafka.Message{
		Topic: topic,
		Value: msg.Value,
	}
	if msg.Key != "" {
		km.Key = []byte(msg.Key)
	}

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(msg.Headers[k])})
	}
	return km
}

func fromKafkaMessage(km kafka.Message) domain.Message {
	msg := domain.Message{
		Key:   string(km.Key),
		Value: km.Value,
	}
	if len(km.Headers) > 0 {
		msg.Headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			// last one wins on duplicate keys
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
