// Package consumer subscribes to the retry-flow topics and feeds each message
// to the pipeline stage its topic is bound to.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/infra/broker"
	"github.com/vietddude/orderflow/internal/processing/pipeline"
)

// RoutingTable binds a topic to the stage its messages are processed as.
// It is built once at startup and read-only afterwards.
type RoutingTable map[string]pipeline.Stage

// NewRoutingTable binds the three topics of the retry flow.
func NewRoutingTable(intake, retry, deadLetter string) (RoutingTable, error) {
	t := RoutingTable{}
	for topic, stage := range map[string]pipeline.Stage{
		intake:     pipeline.StageIntake,
		retry:      pipeline.StageRetry,
		deadLetter: pipeline.StageDeadLetter,
	} {
		if topic == "" {
			return nil, fmt.Errorf("empty topic for stage %s", stage)
		}
		t[topic] = stage
	}
	if len(t) != 3 {
		return nil, errors.New("intake, retry and dead-letter topics must be distinct")
	}
	return t, nil
}

// Processor runs one stage for a message.
type Processor interface {
	Process(ctx context.Context, stage pipeline.Stage, msg domain.Message) (pipeline.Result, error)
}

// Dispatcher owns one subscription per routed topic.
type Dispatcher struct {
	sub     broker.Subscriber
	proc    Processor
	table   RoutingTable
	backoff FixedBackoff
	wait    func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	log     *slog.Logger

	stateMu sync.RWMutex
	state   map[pipeline.Stage]error // nil while subscribed
}

// errNotSubscribed is the state of a stage whose subscription is not active.
var errNotSubscribed = errors.New("not subscribed")

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sub broker.Subscriber, proc Processor, table RoutingTable, backoff FixedBackoff) *Dispatcher {
	state := make(map[pipeline.Stage]error, len(table))
	for _, stage := range table {
		state[stage] = errNotSubscribed
	}
	return &Dispatcher{
		state:   state,
		sub:     sub,
		proc:    proc,
		table:   table,
		backoff: backoff,
		wait:    sleep,
		log:     slog.Default().With("component", "consumer"),
	}
}

// Start subscribes to every routed topic and returns immediately.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("dispatcher already running")
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.running = true

	for topic, stage := range d.table {
		d.wg.Add(1)
		go func(topic string, stage pipeline.Stage) {
			defer d.wg.Done()
			d.subscribe(ctx, topic, stage)
		}(topic, stage)
	}
	return nil
}

// subscribe keeps a subscription on topic alive until ctx is done. A
// subscription that fails or ends is started again after the backoff interval.
func (d *Dispatcher) subscribe(ctx context.Context, topic string, stage pipeline.Stage) {
	interval := d.backoff.Interval
	if interval <= 0 {
		interval = time.Second
	}

	for {
		d.log.Info("Subscribing", "topic", topic, "stage", stage.String())
		d.setState(stage, nil)
		err := d.sub.Subscribe(ctx, topic, d.Handler(stage))
		if ctx.Err() != nil {
			d.setState(stage, errNotSubscribed)
			return
		}

		if err == nil {
			err = errors.New("subscription ended")
		}
		d.setState(stage, fmt.Errorf("subscription to %s failed: %w", topic, err))
		d.log.Error("Subscription failed, resubscribing",
			"topic", topic,
			"retry_in", interval,
			"error", err,
		)

		if werr := d.wait(ctx, interval); werr != nil {
			d.setState(stage, errNotSubscribed)
			return
		}
	}
}

func (d *Dispatcher) setState(stage pipeline.Stage, err error) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.state[stage] = err
}

// StageErr returns nil while the subscription serving stage is active, and
// the reason otherwise.
func (d *Dispatcher) StageErr(stage pipeline.Stage) error {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	err, ok := d.state[stage]
	if !ok {
		return fmt.Errorf("no topic routed to stage %s", stage)
	}
	return err
}

// Stop cancels the subscriptions and waits for in-flight handlers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("Consumers stopped")
}

// Handler returns the broker handler for stage. A failing message is handed
// back to the pipeline up to the backoff limit before the error is returned
// to the transport, which keeps it for redelivery.
func (d *Dispatcher) Handler(stage pipeline.Stage) broker.Handler {
	return func(ctx context.Context, msg domain.Message) error {
		var err error
		for tries := 0; ; tries++ {
			_, err = d.proc.Process(ctx, stage, msg)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !d.backoff.ShouldRetry(tries + 1) {
				break
			}
			d.log.Warn("Handler failed, redelivering",
				"stage", stage.String(),
				"try", tries+1,
				"error", err,
			)
			if werr := d.wait(ctx, d.backoff.GetDelay(tries)); werr != nil {
				return werr
			}
		}
		d.log.Error("Handler exhausted local redelivery",
			"stage", stage.String(),
			"message_id", msg.MessageID(),
			"error", err,
		)
		return err
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
