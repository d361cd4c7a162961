// Package broker defines the topic transport contract shared by the Kafka,
// Redis Streams and in-memory implementations.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/orderflow/internal/core/domain"
)

// Broker types accepted in configuration.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeKafka  = "kafka"
)

var (
	// ErrClosed is returned when publishing on a closed broker
	ErrClosed = errors.New("broker closed")
)

// Config holds transport-independent consumer settings.
type Config struct {
	Type               string        `yaml:"type"`
	Group              string        `yaml:"group"`
	Concurrency        int           `yaml:"concurrency"`
	RedeliveryInterval time.Duration `yaml:"redelivery_interval"`
	RedeliveryAttempts int           `yaml:"redelivery_attempts"`

	// KeepHistory makes the memory broker retain every published message
	KeepHistory bool `yaml:"keep_history"`
}

// Handler processes one delivered message. A non-nil error means the message
// was not processed and must be delivered again.
type Handler func(ctx context.Context, msg domain.Message) error

// Publisher sends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg domain.Message) error
}

// Subscriber consumes a topic.
type Subscriber interface {
	// Subscribe blocks until ctx is cancelled or the subscription fails.
	Subscribe(ctx context.Context, topic string, handler Handler) error
}

// Broker is a full transport.
type Broker interface {
	Publisher
	Subscriber

	// Ping checks connectivity
	Ping(ctx context.Context) error

	// Close releases connections
	Close() error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, topic string, msg domain.Message) error

func (f PublisherFunc) Publish(ctx context.Context, topic string, msg domain.Message) error {
	return f(ctx, topic, msg)
}
