package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/infra/storage/memory"
)

type failingRepo struct {
	*memory.DeadLetterRepo
}

func (failingRepo) Save(ctx context.Context, dl *domain.DeadLetter) error {
	return errors.New("db down")
}

func TestStore_Handle(t *testing.T) {
	repo := memory.NewDeadLetterRepo()
	s := NewStore(repo, "createOrderDeadLetter")
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	msg := domain.NewMessage("", []byte("fail-order-1")).
		WithHeader(domain.HeaderMessageID, "id-1").
		WithHeader(domain.HeaderFailureReason, "API call failed")

	dl, err := s.Handle(context.Background(), msg, 5)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if dl.ID == "" || dl.MessageID != "id-1" || dl.Attempts != 5 {
		t.Errorf("unexpected record: %+v", dl)
	}
	if dl.Reason != "API call failed" || !dl.CreatedAt.Equal(fixed) {
		t.Errorf("unexpected record: %+v", dl)
	}

	count, _ := repo.Count(context.Background())
	if count != 1 {
		t.Errorf("expected 1 stored record, got %d", count)
	}
}

func TestStore_HandleStorageError(t *testing.T) {
	s := NewStore(failingRepo{memory.NewDeadLetterRepo()}, "dlq")

	if _, err := s.Handle(context.Background(), domain.NewMessage("", []byte("x")), 1); err == nil {
		t.Fatal("expected storage error")
	}
}
