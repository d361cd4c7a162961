package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/infra/broker"
)

func TestMessage_RoundTrip(t *testing.T) {
	msg := domain.Message{
		Key:   "order-1",
		Value: []byte("fail-order-1"),
		Headers: map[string]string{
			domain.HeaderRetryCount:    "2",
			domain.HeaderMessageID:     "abc",
			domain.HeaderFailureReason: "API call failed",
		},
	}

	km := toKafkaMessage("createOrderRetry", msg)
	if km.Topic != "createOrderRetry" {
		t.Errorf("expected topic createOrderRetry, got %s", km.Topic)
	}
	if len(km.Headers) != 3 {
		t.Fatalf("expected 3 headers, got %d", len(km.Headers))
	}
	// headers are emitted in key order
	if km.Headers[0].Key != domain.HeaderFailureReason || km.Headers[2].Key != domain.HeaderRetryCount {
		t.Errorf("unexpected header order: %v", km.Headers)
	}

	got := fromKafkaMessage(km)
	if got.Key != "order-1" || string(got.Value) != "fail-order-1" {
		t.Errorf("unexpected message: %+v", got)
	}
	for k, v := range msg.Headers {
		if got.Headers[k] != v {
			t.Errorf("header %s: expected %s, got %s", k, v, got.Headers[k])
		}
	}
}

func TestFromKafkaMessage_NoHeaders(t *testing.T) {
	got := fromKafkaMessage(kafka.Message{Value: []byte("ok-order-2")})
	if got.Headers != nil {
		t.Errorf("expected nil headers, got %v", got.Headers)
	}
	if got.Key != "" {
		t.Errorf("expected empty key, got %q", got.Key)
	}
}

func TestNewBroker_RequiresBrokers(t *testing.T) {
	if _, err := NewBroker(Config{}, broker.Config{}); err == nil {
		t.Error("expected error without brokers")
	}

	b, err := NewBroker(Config{Brokers: []string{"localhost:9092"}}, broker.Config{Group: "g"})
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}
	defer b.Close()

	if b.concurrency != 1 || b.cfg.MinBytes != 1 || b.cfg.MaxBytes != 10e6 {
		t.Errorf("defaults not applied: %+v concurrency=%d", b.cfg, b.concurrency)
	}
}
