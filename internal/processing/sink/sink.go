// Package sink is the terminal handler of the dead-letter topic.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/infra/storage"
)

// Sink takes ownership of a dead-lettered work item.
type Sink interface {
	Handle(ctx context.Context, msg domain.Message, attempts int) (*domain.DeadLetter, error)
}

// Store persists dead letters and raises an operator-facing warning for each.
type Store struct {
	repo  storage.DeadLetterRepository
	topic string
	now   func() time.Time
	log   *slog.Logger
}

// NewStore creates a persisting sink for records read from topic.
func NewStore(repo storage.DeadLetterRepository, topic string) *Store {
	return &Store{
		repo:  repo,
		topic: topic,
		now:   time.Now,
		log:   slog.Default().With("component", "dlq"),
	}
}

// Handle records msg. A storage error is returned so the message is redelivered.
func (s *Store) Handle(ctx context.Context, msg domain.Message, attempts int) (*domain.DeadLetter, error) {
	reason, _ := msg.Header(domain.HeaderFailureReason)

	s.log.Warn("New event received in DLQ",
		"message", string(msg.Value),
		"message_id", msg.MessageID(),
		"attempts", attempts,
		"reason", reason,
	)

	dl := &domain.DeadLetter{
		ID:        uuid.NewString(),
		MessageID: msg.MessageID(),
		Topic:     s.topic,
		Payload:   msg.Value,
		Attempts:  attempts,
		Reason:    reason,
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.Save(ctx, dl); err != nil {
		return nil, fmt.Errorf("failed to persist dead letter: %w", err)
	}

	s.log.Info("Inserted into DB", "id", dl.ID, "message", string(msg.Value))
	return dl, nil
}
