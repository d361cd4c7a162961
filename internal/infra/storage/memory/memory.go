package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/orderflow/internal/core/domain"
)

// DeadLetterRepo keeps dead letters in process memory.
type DeadLetterRepo struct {
	mu      sync.RWMutex
	records []*domain.DeadLetter
}

func NewDeadLetterRepo() *DeadLetterRepo {
	return &DeadLetterRepo{}
}

func (r *DeadLetterRepo) Save(ctx context.Context, dl *domain.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *dl
	r.records = append(r.records, &cp)
	return nil
}

func (r *DeadLetterRepo) List(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.DeadLetter, 0, len(r.records))
	for _, dl := range r.records {
		cp := *dl
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *DeadLetterRepo) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}

func (r *DeadLetterRepo) DeleteOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.records[:0]
	deleted := 0
	for _, dl := range r.records {
		if dl.CreatedAt.Before(threshold) {
			deleted++
			continue
		}
		kept = append(kept, dl)
	}
	r.records = kept
	return deleted, nil
}
