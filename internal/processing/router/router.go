// Package router publishes a work item to the destination chosen by the
// escalation policy.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/orderflow/internal/core/attempt"
	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/core/escalation"
	"github.com/vietddude/orderflow/internal/infra/broker"
)

// Topics names the destinations.
type Topics struct {
	Retry      string
	DeadLetter string
}

// Route reports what the router did.
type Route struct {
	Action  escalation.Action
	Topic   string // empty for success
	Attempt int    // attempt count on the published message
}

// Router performs at most one publish per decision and never retries it.
type Router struct {
	publisher broker.Publisher
	topics    Topics
	log       *slog.Logger
}

// New creates a Router.
func New(publisher broker.Publisher, topics Topics) *Router {
	return &Router{
		publisher: publisher,
		topics:    topics,
		log:       slog.Default().With("component", "router"),
	}
}

// Route acts on decision for msg. cause is the failure that led to the
// decision and is recorded on the published message; it may be nil.
func (r *Router) Route(
	ctx context.Context,
	decision escalation.Decision,
	msg domain.Message,
	cause error,
) (Route, error) {
	switch decision.Action {
	case escalation.ActionSuccess:
		return Route{Action: escalation.ActionSuccess}, nil

	case escalation.ActionRetry:
		out := withReason(attempt.Attach(msg, decision.NextAttempt), cause)
		if err := r.publish(ctx, r.topics.Retry, out); err != nil {
			return Route{}, err
		}
		r.log.Info("Sent to retry topic",
			"topic", r.topics.Retry,
			"message", string(msg.Value),
			"retry_count", decision.NextAttempt,
			"message_id", msg.MessageID(),
		)
		return Route{Action: escalation.ActionRetry, Topic: r.topics.Retry, Attempt: decision.NextAttempt}, nil

	case escalation.ActionDeadLetter:
		// attempt count after the failed attempt, kept for the dead-letter record
		final := attempt.Extract(msg) + 1
		out := withReason(attempt.Attach(msg, final), cause)
		if err := r.publish(ctx, r.topics.DeadLetter, out); err != nil {
			return Route{}, err
		}
		r.log.Info("Sent to DLQ",
			"topic", r.topics.DeadLetter,
			"message", string(msg.Value),
			"message_id", msg.MessageID(),
		)
		return Route{Action: escalation.ActionDeadLetter, Topic: r.topics.DeadLetter, Attempt: final}, nil

	default:
		return Route{}, fmt.Errorf("unknown action %v", decision.Action)
	}
}

func (r *Router) publish(ctx context.Context, topic string, msg domain.Message) error {
	if err := r.publisher.Publish(ctx, topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func withReason(msg domain.Message, cause error) domain.Message {
	if cause == nil {
		return msg.WithoutHeader(domain.HeaderFailureReason)
	}
	return msg.WithHeader(domain.HeaderFailureReason, cause.Error())
}
