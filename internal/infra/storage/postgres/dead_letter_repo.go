package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/orderflow/internal/core/domain"
)

// DeadLetterRepo implements storage.DeadLetterRepository using PostgreSQL.
type DeadLetterRepo struct {
	db *DB
}

// NewDeadLetterRepo creates a new PostgreSQL dead-letter repository.
func NewDeadLetterRepo(db *DB) *DeadLetterRepo {
	return &DeadLetterRepo{db: db}
}

// Save inserts a dead letter. Saving the same ID twice is a no-op.
func (r *DeadLetterRepo) Save(ctx context.Context, dl *domain.DeadLetter) error {
	query := `
		INSERT INTO dead_letters (id, message_id, topic, payload, attempts, reason, created_at)
		VALUES (:id, :message_id, :topic, :payload, :attempts, :reason, :created_at)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.NamedExecContext(ctx, query, dl); err != nil {
		return fmt.Errorf("failed to add dead letter: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first.
func (r *DeadLetterRepo) List(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	query := `
		SELECT id, message_id, topic, payload, attempts, reason, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT $1
	`

	var rows []*domain.DeadLetter
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return rows, nil
}

// Count returns the number of dead letters.
func (r *DeadLetterRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM dead_letters`); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes records created before threshold.
func (r *DeadLetterRepo) DeleteOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE created_at < $1`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to prune dead letters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
