package storage

import (
	"context"
	"time"

	"github.com/vietddude/orderflow/internal/core/domain"
)

// DeadLetterRepository persists work items that exhausted their retries
type DeadLetterRepository interface {
	// Save stores a dead letter
	Save(ctx context.Context, dl *domain.DeadLetter) error

	// List returns up to limit records, newest first
	List(ctx context.Context, limit int) ([]*domain.DeadLetter, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int, error)

	// DeleteOlderThan removes records created before threshold (retention)
	DeleteOlderThan(ctx context.Context, threshold time.Time) (int, error)
}
