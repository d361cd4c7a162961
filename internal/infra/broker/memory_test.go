package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/orderflow/internal/core/domain"
)

func TestMemory_PublishSubscribe(t *testing.T) {
	b := NewMemory(Config{Concurrency: 2, KeepHistory: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, p := range []string{"a", "b", "c"} {
		if err := b.Publish(ctx, "orders", domain.NewMessage("", []byte(p))); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	wg.Add(3)

	done := make(chan struct{})
	go func() {
		_ = b.Subscribe(ctx, "orders", func(ctx context.Context, msg domain.Message) error {
			mu.Lock()
			seen[string(msg.Value)] = true
			mu.Unlock()
			wg.Done()
			return nil
		})
		close(done)
	}()

	wg.Wait()
	cancel()
	<-done

	if len(seen) != 3 {
		t.Errorf("expected 3 messages, got %v", seen)
	}
	if got := len(b.Published("orders")); got != 3 {
		t.Errorf("expected 3 published, got %d", got)
	}
}

func TestMemory_RedeliversOnHandlerError(t *testing.T) {
	b := NewMemory(Config{Concurrency: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_ = b.Publish(ctx, "orders", domain.NewMessage("", []byte("flaky")))

	var mu sync.Mutex
	calls := 0
	delivered := make(chan struct{})

	go func() {
		_ = b.Subscribe(ctx, "orders", func(ctx context.Context, msg domain.Message) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls < 3 {
				return errors.New("publish failed")
			}
			close(delivered)
			return nil
		})
	}()

	select {
	case <-delivered:
	case <-ctx.Done():
		t.Fatal("message was not redelivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Errorf("expected 3 deliveries, got %d", calls)
	}
}

func TestMemory_Closed(t *testing.T) {
	b := NewMemory(Config{})
	_ = b.Close()

	err := b.Publish(context.Background(), "orders", domain.NewMessage("", []byte("x")))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := b.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Ping, got %v", err)
	}
}

func TestMemory_DefaultKeepsNoHistory(t *testing.T) {
	b := NewMemory(Config{Concurrency: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 500
	payload := make([]byte, 1024)
	for i := 0; i < total; i++ {
		if err := b.Publish(ctx, "orders", domain.NewMessage("", payload)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if got := b.Pending("orders"); got != total {
		t.Fatalf("expected %d pending, got %d", total, got)
	}

	var wg sync.WaitGroup
	wg.Add(total)
	done := make(chan struct{})
	go func() {
		_ = b.Subscribe(ctx, "orders", func(ctx context.Context, msg domain.Message) error {
			wg.Done()
			return nil
		})
		close(done)
	}()

	wg.Wait()
	cancel()
	<-done

	if got := b.Pending("orders"); got != 0 {
		t.Errorf("expected 0 pending, got %d", got)
	}
	if got := len(b.Published("orders")); got != 0 {
		t.Errorf("expected no history without KeepHistory, got %d", got)
	}
}
