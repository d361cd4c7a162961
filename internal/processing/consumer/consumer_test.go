package consumer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/infra/broker"
	"github.com/vietddude/orderflow/internal/processing/pipeline"
)

type mockProcessor struct {
	mu    sync.Mutex
	calls map[pipeline.Stage]int
	fail  int // number of leading calls that fail
	seen  int
}

func newMockProcessor(fail int) *mockProcessor {
	return &mockProcessor{calls: make(map[pipeline.Stage]int), fail: fail}
}

func (m *mockProcessor) Process(ctx context.Context, stage pipeline.Stage, msg domain.Message) (pipeline.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[stage]++
	m.seen++
	if m.seen <= m.fail {
		return pipeline.Result{}, errors.New("publish failed")
	}
	return pipeline.Result{Stage: stage}, nil
}

func (m *mockProcessor) count(stage pipeline.Stage) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[stage]
}

func noWait(ctx context.Context, d time.Duration) error { return nil }

func TestNewRoutingTable(t *testing.T) {
	table, err := NewRoutingTable("createOrder", "createOrderRetry", "createOrderDeadLetter")
	if err != nil {
		t.Fatalf("NewRoutingTable failed: %v", err)
	}
	if table["createOrder"] != pipeline.StageIntake ||
		table["createOrderRetry"] != pipeline.StageRetry ||
		table["createOrderDeadLetter"] != pipeline.StageDeadLetter {
		t.Errorf("unexpected table %v", table)
	}

	if _, err := NewRoutingTable("a", "a", "b"); err == nil {
		t.Error("expected error for duplicate topics")
	}
	if _, err := NewRoutingTable("a", "", "b"); err == nil {
		t.Error("expected error for empty topic")
	}
}

func TestHandler_RedeliversLocally(t *testing.T) {
	proc := newMockProcessor(2)
	d := NewDispatcher(nil, proc, RoutingTable{}, FixedBackoff{Interval: time.Second, MaxAttempts: 5})
	d.wait = noWait

	if err := d.Handler(pipeline.StageRetry)(context.Background(), domain.NewMessage("", []byte("x"))); err != nil {
		t.Fatalf("expected success after local redelivery, got %v", err)
	}
	if got := proc.count(pipeline.StageRetry); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestHandler_ReturnsErrorAfterBackoffExhausted(t *testing.T) {
	proc := newMockProcessor(100)
	d := NewDispatcher(nil, proc, RoutingTable{}, FixedBackoff{Interval: time.Second, MaxAttempts: 5})
	d.wait = noWait

	if err := d.Handler(pipeline.StageIntake)(context.Background(), domain.NewMessage("", []byte("x"))); err == nil {
		t.Fatal("expected error to reach the transport")
	}
	if got := proc.count(pipeline.StageIntake); got != 5 {
		t.Errorf("expected 5 tries, got %d", got)
	}
}

func TestFixedBackoff(t *testing.T) {
	b := DefaultBackoff()
	for i := 0; i < 5; i++ {
		if b.GetDelay(i) != time.Second {
			t.Errorf("delay %d: expected 1s, got %v", i, b.GetDelay(i))
		}
	}
	if !b.ShouldRetry(4) || b.ShouldRetry(5) {
		t.Error("expected exactly 5 tries")
	}
}

func TestDispatcher_RoutesTopicsToStages(t *testing.T) {
	b := broker.NewMemory(broker.Config{Concurrency: 2})
	proc := newMockProcessor(0)
	table, _ := NewRoutingTable("in", "retry", "dlq")
	d := NewDispatcher(b, proc, table, DefaultBackoff())

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("expected error on second Start")
	}

	ctx := context.Background()
	_ = b.Publish(ctx, "in", domain.NewMessage("", []byte("a")))
	_ = b.Publish(ctx, "in", domain.NewMessage("", []byte("b")))
	_ = b.Publish(ctx, "retry", domain.NewMessage("", []byte("c")))
	_ = b.Publish(ctx, "dlq", domain.NewMessage("", []byte("d")))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if proc.count(pipeline.StageIntake) == 2 &&
			proc.count(pipeline.StageRetry) == 1 &&
			proc.count(pipeline.StageDeadLetter) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	d.Stop()

	if proc.count(pipeline.StageIntake) != 2 || proc.count(pipeline.StageRetry) != 1 || proc.count(pipeline.StageDeadLetter) != 1 {
		t.Errorf("unexpected dispatch counts: %v", proc.calls)
	}
}

// flakySubscriber fails the first Subscribe call per topic, then delegates.
type flakySubscriber struct {
	next broker.Subscriber

	mu    sync.Mutex
	calls map[string]int
}

func (f *flakySubscriber) Subscribe(ctx context.Context, topic string, handler broker.Handler) error {
	f.mu.Lock()
	f.calls[topic]++
	n := f.calls[topic]
	f.mu.Unlock()

	if n == 1 {
		return errors.New("connection refused")
	}
	return f.next.Subscribe(ctx, topic, handler)
}

func (f *flakySubscriber) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[topic]
}

func TestDispatcher_ResubscribesAfterFailure(t *testing.T) {
	b := broker.NewMemory(broker.Config{Concurrency: 1})
	sub := &flakySubscriber{next: b, calls: make(map[string]int)}
	proc := newMockProcessor(0)
	table, _ := NewRoutingTable("in", "retry", "dlq")
	d := NewDispatcher(sub, proc, table, DefaultBackoff())
	d.wait = noWait

	if err := d.StageErr(pipeline.StageIntake); err == nil {
		t.Error("expected error before Start")
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_ = b.Publish(context.Background(), "in", domain.NewMessage("", []byte("a")))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if proc.count(pipeline.StageIntake) == 1 &&
			sub.count("in") == 2 && sub.count("retry") == 2 && sub.count("dlq") == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if proc.count(pipeline.StageIntake) != 1 {
		t.Errorf("expected message consumed after resubscribe, got %d", proc.count(pipeline.StageIntake))
	}
	for _, topic := range []string{"in", "retry", "dlq"} {
		if got := sub.count(topic); got != 2 {
			t.Errorf("%s: expected 2 subscribe calls, got %d", topic, got)
		}
	}
	for _, stage := range []pipeline.Stage{pipeline.StageIntake, pipeline.StageRetry, pipeline.StageDeadLetter} {
		if err := d.StageErr(stage); err != nil {
			t.Errorf("%s: expected active subscription, got %v", stage, err)
		}
	}

	d.Stop()

	if err := d.StageErr(pipeline.StageIntake); err == nil {
		t.Error("expected error after Stop")
	}
}

func TestDispatcher_ReportsFailingSubscription(t *testing.T) {
	sub := &flakySubscriber{next: nil, calls: make(map[string]int)}
	table, _ := NewRoutingTable("in", "retry", "dlq")
	d := NewDispatcher(sub, newMockProcessor(0), table, DefaultBackoff())

	release := make(chan struct{})
	d.wait = func(ctx context.Context, _ time.Duration) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	refused := func() bool {
		err := d.StageErr(pipeline.StageRetry)
		return err != nil && strings.Contains(err.Error(), "connection refused")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !refused() {
		time.Sleep(10 * time.Millisecond)
	}
	if err := d.StageErr(pipeline.StageRetry); !refused() {
		t.Errorf("expected failing subscription to be reported, got %v", err)
	}

	d.Stop()
}
