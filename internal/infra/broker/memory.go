package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/vietddude/orderflow/internal/core/domain"
)

// Memory is an in-process broker backed by one buffered channel per topic.
// With Config.KeepHistory every published message is also kept in a
// per-topic history for inspection; the history is never trimmed.
type Memory struct {
	mu          sync.Mutex
	topics      map[string]chan domain.Message
	history     map[string][]domain.Message
	record      bool
	buffer      int
	concurrency int
	closed      bool
}

// NewMemory creates an in-memory broker.
func NewMemory(cfg Config) *Memory {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Memory{
		topics:      make(map[string]chan domain.Message),
		history:     make(map[string][]domain.Message),
		record:      cfg.KeepHistory,
		buffer:      1024,
		concurrency: concurrency,
	}
}

func (b *Memory) channel(topic string) chan domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.topics[topic]
	if !ok {
		ch = make(chan domain.Message, b.buffer)
		b.topics[topic] = ch
	}
	return ch
}

// Publish enqueues msg on topic, blocking while the topic buffer is full.
func (b *Memory) Publish(ctx context.Context, topic string, msg domain.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.record {
		b.history[topic] = append(b.history[topic], msg)
	}
	b.mu.Unlock()

	return b.enqueue(ctx, topic, msg)
}

func (b *Memory) enqueue(ctx context.Context, topic string, msg domain.Message) error {
	select {
	case b.channel(topic) <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
}

// Subscribe runs the configured number of workers on topic. A message whose
// handler fails is put back on the topic.
func (b *Memory) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ch := b.channel(topic)

	var wg sync.WaitGroup
	for i := 0; i < b.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-ch:
					if err := handler(ctx, msg); err != nil {
						if ctx.Err() != nil {
							return
						}
						go func() { _ = b.enqueue(ctx, topic, msg) }()
					}
				}
			}
		}()
	}

	wg.Wait()
	return nil
}

// Published returns every message ever published to topic, oldest first.
// It is always empty unless the broker was built with KeepHistory.
func (b *Memory) Published(topic string) []domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Message, len(b.history[topic]))
	copy(out, b.history[topic])
	return out
}

// Pending returns the number of queued, undelivered messages on topic.
func (b *Memory) Pending(topic string) int {
	return len(b.channel(topic))
}

func (b *Memory) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
