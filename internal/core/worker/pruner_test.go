package worker

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/infra/storage/memory"
)

func TestPruner_Prune(t *testing.T) {
	repo := memory.NewDeadLetterRepo()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_ = repo.Save(ctx, &domain.DeadLetter{ID: "old", CreatedAt: now.Add(-48 * time.Hour)})
	_ = repo.Save(ctx, &domain.DeadLetter{ID: "new", CreatedAt: now.Add(-1 * time.Hour)})

	p := NewPruner(24*time.Hour, repo)
	p.now = func() time.Time { return now }

	if n := p.Prune(ctx); n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}

	left, _ := repo.List(ctx, 10)
	if len(left) != 1 || left[0].ID != "new" {
		t.Errorf("unexpected remaining records %+v", left)
	}
}

func TestPruner_DisabledReturnsImmediately(t *testing.T) {
	p := NewPruner(0, memory.NewDeadLetterRepo())

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return when retention is disabled")
	}
}
