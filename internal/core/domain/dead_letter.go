package domain

import "time"

// DeadLetter is a work item that exhausted its retry budget
type DeadLetter struct {
	ID        string    `json:"id"         db:"id"`
	MessageID string    `json:"message_id" db:"message_id"`
	Topic     string    `json:"topic"      db:"topic"`
	Payload   []byte    `json:"payload"    db:"payload"`
	Attempts  int       `json:"attempts"   db:"attempts"`
	Reason    string    `json:"reason"     db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
