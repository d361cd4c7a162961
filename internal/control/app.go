// Package control wires the retry flow into a runnable service.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vietddude/orderflow/internal/core/config"
	"github.com/vietddude/orderflow/internal/core/escalation"
	"github.com/vietddude/orderflow/internal/core/worker"
	"github.com/vietddude/orderflow/internal/health"
	"github.com/vietddude/orderflow/internal/infra/broker"
	"github.com/vietddude/orderflow/internal/infra/kafka"
	redisclient "github.com/vietddude/orderflow/internal/infra/redis"
	"github.com/vietddude/orderflow/internal/infra/storage"
	"github.com/vietddude/orderflow/internal/infra/storage/memory"
	"github.com/vietddude/orderflow/internal/infra/storage/postgres"
	"github.com/vietddude/orderflow/internal/ingress"
	"github.com/vietddude/orderflow/internal/processing/consumer"
	"github.com/vietddude/orderflow/internal/processing/metrics"
	"github.com/vietddude/orderflow/internal/processing/operation"
	"github.com/vietddude/orderflow/internal/processing/pipeline"
	"github.com/vietddude/orderflow/internal/processing/router"
	"github.com/vietddude/orderflow/internal/processing/sink"
)

// deadLetterCritical is the stored dead-letter count at which health turns critical.
const deadLetterCritical = 1000

// App is the main application struct that manages the service lifecycle.
type App struct {
	cfg          *config.AppConfig
	broker       broker.Broker
	deadLetters  storage.DeadLetterRepository
	registry     *prometheus.Registry
	metrics      *metrics.Prometheus
	pipeline     *pipeline.Pipeline
	dispatcher   *consumer.Dispatcher
	ingress      *ingress.Server
	healthMon    *health.Monitor
	healthServer *health.Server
	grpcHealth   *health.GRPCServer
	pruner       *worker.Pruner
	db           *postgres.DB
	redisClient  *redisclient.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// Components selects which parts of the App are built. The CLI uses a
// reduced set for one-shot commands.
type Components struct {
	Consumers bool
	Servers   bool
}

// All builds every component.
var All = Components{Consumers: true, Servers: true}

// NewApp creates a new App with all dependencies initialized.
func NewApp(cfg *config.AppConfig) (*App, error) {
	return NewAppWith(cfg, All)
}

// NewAppWith creates an App with the selected components.
func NewAppWith(cfg *config.AppConfig, parts Components) (*App, error) {
	app := &App{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		log:      slog.Default(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.NewPrometheus(app.registry)

	ok := false
	defer func() {
		if !ok {
			app.closeResources()
		}
	}()

	// 1. Broker
	if err := app.initBroker(); err != nil {
		return nil, err
	}

	// 2. Dead-letter storage
	if err := app.initStorage(); err != nil {
		return nil, err
	}

	// 3. Pipeline
	mode, err := escalation.ParseIntakeMode(cfg.Retry.IntakeMode)
	if err != nil {
		return nil, err
	}
	op, err := newOperation(cfg.Operation)
	if err != nil {
		return nil, err
	}
	r := router.New(app.broker, router.Topics{
		Retry:      cfg.Topics.Retry,
		DeadLetter: cfg.Topics.DeadLetter,
	})
	s := sink.NewStore(app.deadLetters, cfg.Topics.DeadLetter)
	app.pipeline = pipeline.New(op, r, s, app.metrics, pipeline.Config{
		MaxRetries:    cfg.Retry.MaxRetries,
		RetryInterval: cfg.Retry.Interval,
		IntakeMode:    mode,
	})
	app.log.Info("Retry policy",
		"max_retries", cfg.Retry.MaxRetries,
		"intake_mode", mode,
		"max_attempts", escalation.TotalAttempts(mode, cfg.Retry.MaxRetries),
	)

	// 4. Consumers
	if parts.Consumers {
		table, err := consumer.NewRoutingTable(cfg.Topics.Intake, cfg.Topics.Retry, cfg.Topics.DeadLetter)
		if err != nil {
			return nil, err
		}
		app.dispatcher = consumer.NewDispatcher(app.broker, app.pipeline, table, consumer.FixedBackoff{
			Interval:    cfg.Broker.RedeliveryInterval,
			MaxAttempts: cfg.Broker.RedeliveryAttempts,
		})
	}

	// 5. Health and ingress
	app.healthMon = health.NewMonitor(5 * time.Second)
	app.healthMon.Register("broker", health.Ping(app.broker.Ping))
	app.healthMon.Register("dead_letters", health.Backlog(app.deadLetters.Count, deadLetterCritical))
	if app.db != nil {
		app.healthMon.Register("database", health.Ping(app.db.Health))
	}
	if app.dispatcher != nil {
		for _, stage := range []pipeline.Stage{pipeline.StageIntake, pipeline.StageRetry, pipeline.StageDeadLetter} {
			app.healthMon.Register("consumer_"+stage.String(), health.Ping(func(ctx context.Context) error {
				return app.dispatcher.StageErr(stage)
			}))
		}
	}

	if parts.Servers {
		app.ingress = ingress.NewServer(app.broker, app.deadLetters, cfg.Topics.Intake, cfg.Server.Port)
		app.healthServer = health.NewServer(app.healthMon, app.registry, cfg.Health.Port)
		if cfg.Health.GRPCPort > 0 {
			app.grpcHealth = health.NewGRPCServer(app.healthMon, cfg.Health.GRPCPort, 10*time.Second)
		}
	}

	if cfg.DeadLetter.Retention > 0 {
		app.pruner = worker.NewPruner(cfg.DeadLetter.Retention, app.deadLetters)
	}

	ok = true
	return app, nil
}

func (a *App) initBroker() error {
	switch a.cfg.Broker.Type {
	case broker.TypeMemory:
		a.broker = broker.NewMemory(a.cfg.Broker)
		a.log.Info("Using in-memory broker")

	case broker.TypeRedis:
		client, err := a.redis()
		if err != nil {
			return err
		}
		a.broker = redisclient.NewStreamBroker(client, a.cfg.Broker, a.cfg.Redis.MinIdle)
		a.log.Info("Using Redis Streams broker", "group", a.cfg.Broker.Group)

	case broker.TypeKafka:
		b, err := kafka.NewBroker(a.cfg.Kafka, a.cfg.Broker)
		if err != nil {
			return fmt.Errorf("failed to init kafka: %w", err)
		}
		a.broker = b
		a.log.Info("Using Kafka broker", "brokers", a.cfg.Kafka.Brokers, "group", a.cfg.Broker.Group)

	default:
		return fmt.Errorf("unknown broker type %q", a.cfg.Broker.Type)
	}
	return nil
}

func (a *App) initStorage() error {
	store := a.cfg.DeadLetter.Store
	if store == "auto" {
		store = "memory"
		if a.cfg.Database.URL != "" {
			store = "postgres"
		}
	}

	switch store {
	case "postgres":
		db, err := postgres.NewDB(context.Background(), a.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		a.db = db
		if err := db.Migrate(); err != nil {
			return err
		}
		a.deadLetters = postgres.NewDeadLetterRepo(db)
		a.log.Info("Using PostgreSQL dead-letter storage")

	case "redis":
		client, err := a.redis()
		if err != nil {
			return err
		}
		a.deadLetters = redisclient.NewDeadLetterRepo(client, "orderflow")
		a.log.Info("Using Redis dead-letter storage")

	default:
		a.deadLetters = memory.NewDeadLetterRepo()
		a.log.Info("Using Memory dead-letter storage")
	}
	return nil
}

// redis returns the shared Redis client, connecting on first use.
func (a *App) redis() (*redisclient.Client, error) {
	if a.redisClient != nil {
		return a.redisClient, nil
	}
	client, err := redisclient.NewClient(a.cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}
	a.redisClient = client
	return client, nil
}

func newOperation(cfg config.OperationConfig) (operation.Operation, error) {
	switch cfg.Type {
	case "simulated":
		return operation.NewSimulated(cfg.FailMarker), nil
	case "http":
		return operation.NewHTTP(cfg.URL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown operation type %q", cfg.Type)
	}
}

// Broker returns the configured broker.
func (a *App) Broker() broker.Broker { return a.broker }

// DeadLetters returns the dead-letter repository.
func (a *App) DeadLetters() storage.DeadLetterRepository { return a.deadLetters }

// Pipeline returns the processing pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Start starts the consumers, servers and background workers. It returns
// immediately.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.healthServer != nil {
		a.goRun(func() {
			if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Health server failed", "error", err)
			}
		})
	}
	if a.grpcHealth != nil {
		a.goRun(func() {
			if err := a.grpcHealth.Start(ctx); err != nil {
				a.log.Error("gRPC health server failed", "error", err)
			}
		})
	}
	if a.ingress != nil {
		if err := a.ingress.Start(); err != nil {
			return err
		}
	}

	if a.db != nil {
		a.db.StartMetricsCollector(ctx, a.metrics.DBConnectionPoolUsage)
	}

	if a.pruner != nil {
		a.log.Info("Starting pruner", "retention", a.cfg.DeadLetter.Retention)
		a.goRun(func() { a.pruner.Start(ctx) })
	}

	if a.dispatcher != nil {
		if err := a.dispatcher.Start(ctx); err != nil {
			return err
		}
	}

	a.log.Info("Application started",
		"intake", a.cfg.Topics.Intake,
		"retry", a.cfg.Topics.Retry,
		"dead_letter", a.cfg.Topics.DeadLetter,
	)
	return nil
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Stop drains the consumers, shuts the servers down and closes connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping application...")

	var errs []error
	if a.ingress != nil {
		if err := a.ingress.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ingress: %w", err))
		}
	}
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.healthServer != nil {
		if err := a.healthServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server: %w", err))
		}
	}
	if a.grpcHealth != nil {
		a.grpcHealth.Stop()
	}
	a.wg.Wait()

	// connections close only after every handler has returned
	a.closeResources()
	return errors.Join(errs...)
}

// Close releases connections without starting anything. Used by one-shot commands.
func (a *App) Close() {
	a.closeResources()
}

func (a *App) closeResources() {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.log.Warn("Failed to close broker", "error", err)
		}
	}
	// the Redis stream broker owns the client when it is in use
	if a.redisClient != nil && (a.broker == nil || a.cfg.Broker.Type != broker.TypeRedis) {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
}
