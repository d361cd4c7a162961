// Package pipeline runs one processing attempt for a message on a given stage
// and hands the outcome to the router or the dead-letter sink.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/orderflow/internal/core/attempt"
	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/core/escalation"
	"github.com/vietddude/orderflow/internal/processing/metrics"
	"github.com/vietddude/orderflow/internal/processing/operation"
	"github.com/vietddude/orderflow/internal/processing/router"
	"github.com/vietddude/orderflow/internal/processing/sink"
)

// Stage identifies which topic a message was consumed from.
type Stage int

const (
	StageIntake Stage = iota
	StageRetry
	StageDeadLetter
)

func (s Stage) String() string {
	switch s {
	case StageIntake:
		return "intake"
	case StageRetry:
		return "retry"
	case StageDeadLetter:
		return "deadletter"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// State is where a message ended up after one Process call.
type State int

const (
	StateSucceeded State = iota
	StateRetrying
	StateDeadLettered
)

func (s State) String() string {
	switch s {
	case StateSucceeded:
		return "succeeded"
	case StateRetrying:
		return "retrying"
	case StateDeadLettered:
		return "dead_lettered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result describes the outcome of Process.
type Result struct {
	Stage   Stage
	State   State
	Attempt int // retryCount of the published message, or of the input on success
	Record  *domain.DeadLetter
}

// Config holds the escalation settings used by the pipeline.
type Config struct {
	MaxRetries    int
	RetryInterval time.Duration
	IntakeMode    escalation.IntakeMode
}

// Pipeline is stateless across messages and safe for concurrent use.
type Pipeline struct {
	op      operation.Operation
	router  *router.Router
	sink    sink.Sink
	metrics metrics.Recorder
	cfg     Config
	wait    func(ctx context.Context, d time.Duration) error
	log     *slog.Logger
}

// New creates a Pipeline. A nil recorder disables metrics.
func New(
	op operation.Operation,
	r *router.Router,
	s sink.Sink,
	rec metrics.Recorder,
	cfg Config,
) *Pipeline {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if cfg.IntakeMode == "" {
		cfg.IntakeMode = escalation.IntakeUnified
	}
	return &Pipeline{
		op:      op,
		router:  r,
		sink:    s,
		metrics: rec,
		cfg:     cfg,
		wait:    sleep,
		log:     slog.Default().With("component", "pipeline"),
	}
}

// Process handles msg consumed from stage. A returned error means the message
// was not processed and must be redelivered by the caller.
func (p *Pipeline) Process(ctx context.Context, stage Stage, msg domain.Message) (Result, error) {
	switch stage {
	case StageIntake:
		return p.intake(ctx, msg)
	case StageRetry:
		return p.retry(ctx, msg)
	case StageDeadLetter:
		return p.deadLetter(ctx, msg)
	default:
		return Result{}, fmt.Errorf("unknown stage %v", stage)
	}
}

func (p *Pipeline) intake(ctx context.Context, msg domain.Message) (Result, error) {
	p.metrics.IntakeReceived()
	p.log.Info("Received message", "message", string(msg.Value), "message_id", msg.MessageID())
	// intake messages start a new lineage
	msg = msg.WithoutHeader(domain.HeaderRetryCount)

	err := p.execute(ctx, StageIntake, msg)
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	decision := escalation.IntakeDecision(p.cfg.IntakeMode, escalation.OutcomeOf(err), p.cfg.MaxRetries)
	if err != nil {
		p.log.Error("Error processing message", "message", string(msg.Value), "error", err)
	}
	return p.dispatch(ctx, StageIntake, decision, msg, err)
}

func (p *Pipeline) retry(ctx context.Context, msg domain.Message) (Result, error) {
	if err := p.wait(ctx, p.cfg.RetryInterval); err != nil {
		return Result{}, err
	}

	current, ok := attempt.Lookup(msg)
	if raw, present := msg.Header(domain.HeaderRetryCount); present && !ok {
		p.log.Debug("Malformed retry count, treating as 0", "value", raw)
	}
	p.log.Info("Retrying message",
		"message", string(msg.Value),
		"retry_count", current,
		"message_id", msg.MessageID(),
	)

	err := p.execute(ctx, StageRetry, msg)
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if err != nil {
		p.log.Error("Retry failed", "retry_count", current, "error", err)
	}
	decision := escalation.Decide(escalation.OutcomeOf(err), current, p.cfg.MaxRetries)
	return p.dispatch(ctx, StageRetry, decision, msg, err)
}

func (p *Pipeline) deadLetter(ctx context.Context, msg domain.Message) (Result, error) {
	attempts := p.attemptsMade(msg)
	rec, err := p.sink.Handle(ctx, msg, attempts)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Stage:   StageDeadLetter,
		State:   StateDeadLettered,
		Attempt: attempt.Extract(msg),
		Record:  rec,
	}, nil
}

// attemptsMade is the number of operation attempts recorded on a dead-lettered
// message. In reference mode the intake attempt is not counted in retryCount.
func (p *Pipeline) attemptsMade(msg domain.Message) int {
	n := attempt.Extract(msg)
	if p.cfg.IntakeMode == escalation.IntakeReference {
		return n + 1
	}
	return n
}

func (p *Pipeline) execute(ctx context.Context, stage Stage, msg domain.Message) error {
	start := time.Now()
	err := p.op.Execute(ctx, msg.Value)
	p.metrics.ObserveOperation(stage.String(), time.Since(start))
	return err
}

func (p *Pipeline) dispatch(
	ctx context.Context,
	stage Stage,
	decision escalation.Decision,
	msg domain.Message,
	cause error,
) (Result, error) {
	route, err := p.router.Route(ctx, decision, msg, cause)
	if err != nil {
		return Result{}, err
	}

	switch route.Action {
	case escalation.ActionRetry:
		p.metrics.RetrySent()
		return Result{Stage: stage, State: StateRetrying, Attempt: route.Attempt}, nil
	case escalation.ActionDeadLetter:
		p.metrics.DeadLetterSent()
		return Result{Stage: stage, State: StateDeadLettered, Attempt: route.Attempt}, nil
	default:
		p.metrics.Succeeded()
		p.log.Info("Order processed successfully", "message", string(msg.Value), "stage", stage.String())
		return Result{Stage: stage, State: StateSucceeded, Attempt: attempt.Extract(msg)}, nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
