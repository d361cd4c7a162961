package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vietddude/orderflow/internal/core/attempt"
	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/core/escalation"
)

// =============================================================================
// Mock Publisher
// =============================================================================

type published struct {
	topic string
	msg   domain.Message
}

type mockPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *mockPublisher) Publish(ctx context.Context, topic string, msg domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic: topic, msg: msg})
	return nil
}

var topics = Topics{Retry: "createOrderRetry", DeadLetter: "createOrderDeadLetter"}

// =============================================================================
// Tests
// =============================================================================

func TestRoute_Success(t *testing.T) {
	pub := &mockPublisher{}
	r := New(pub, topics)

	route, err := r.Route(context.Background(), escalation.Success(), domain.NewMessage("", []byte("ok-order-2")), nil)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if route.Action != escalation.ActionSuccess || route.Topic != "" {
		t.Errorf("unexpected route: %+v", route)
	}
	if len(pub.sent) != 0 {
		t.Errorf("expected no publish, got %d", len(pub.sent))
	}
}

func TestRoute_Retry(t *testing.T) {
	pub := &mockPublisher{}
	r := New(pub, topics)

	in := domain.NewMessage("k", []byte("fail-order-1")).WithHeader(domain.HeaderMessageID, "id-1")
	route, err := r.Route(context.Background(), escalation.Retry(3), in, errors.New("API call failed"))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if len(pub.sent) != 1 {
		t.Fatalf("expected exactly one publish, got %d", len(pub.sent))
	}
	got := pub.sent[0]
	if got.topic != topics.Retry {
		t.Errorf("expected %s, got %s", topics.Retry, got.topic)
	}
	if attempt.Extract(got.msg) != 3 || route.Attempt != 3 {
		t.Errorf("expected attempt 3, got %d (route %d)", attempt.Extract(got.msg), route.Attempt)
	}
	if string(got.msg.Value) != "fail-order-1" || got.msg.Key != "k" {
		t.Errorf("payload changed: %+v", got.msg)
	}
	if got.msg.MessageID() != "id-1" {
		t.Errorf("expected message id to be propagated, got %q", got.msg.MessageID())
	}
	if reason, _ := got.msg.Header(domain.HeaderFailureReason); reason != "API call failed" {
		t.Errorf("expected failure reason header, got %q", reason)
	}
	if _, ok := in.Header(domain.HeaderRetryCount); ok {
		t.Error("input message was mutated")
	}
}

func TestRoute_DeadLetter(t *testing.T) {
	pub := &mockPublisher{}
	r := New(pub, topics)

	in := attempt.AttachPayload([]byte("fail-order-1"), 4)
	route, err := r.Route(context.Background(), escalation.DeadLetter(), in, errors.New("API call failed"))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if len(pub.sent) != 1 || pub.sent[0].topic != topics.DeadLetter {
		t.Fatalf("expected one publish to %s, got %+v", topics.DeadLetter, pub.sent)
	}
	if string(pub.sent[0].msg.Value) != "fail-order-1" {
		t.Errorf("expected original payload, got %s", pub.sent[0].msg.Value)
	}
	if route.Attempt != 5 {
		t.Errorf("expected final attempt 5, got %d", route.Attempt)
	}
}

func TestRoute_PublishFailurePropagates(t *testing.T) {
	boom := errors.New("broker down")
	pub := &mockPublisher{err: boom}
	r := New(pub, topics)

	for _, d := range []escalation.Decision{escalation.Retry(1), escalation.DeadLetter()} {
		_, err := r.Route(context.Background(), d, domain.NewMessage("", []byte("x")), nil)
		if !errors.Is(err, boom) {
			t.Errorf("%v: expected wrapped publish error, got %v", d, err)
		}
	}
}

func TestRoute_ClearsStaleReason(t *testing.T) {
	pub := &mockPublisher{}
	r := New(pub, topics)

	in := domain.NewMessage("", []byte("x")).WithHeader(domain.HeaderFailureReason, "old")
	if _, err := r.Route(context.Background(), escalation.Retry(1), in, nil); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if _, ok := pub.sent[0].msg.Header(domain.HeaderFailureReason); ok {
		t.Error("expected stale failure reason to be removed")
	}
}
