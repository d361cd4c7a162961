// Package metrics exposes the retry-flow counters.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives one signal per pipeline transition.
type Recorder interface {
	IntakeReceived()
	RetrySent()
	DeadLetterSent()
	Succeeded()
	ObserveOperation(stage string, d time.Duration)
}

// Prometheus records transitions as Prometheus counters.
type Prometheus struct {
	intake     prometheus.Counter
	retry      prometheus.Counter
	deadLetter prometheus.Counter
	success    prometheus.Counter
	latency    *prometheus.HistogramVec

	// DBConnectionPoolUsage tracks dead-letter database pool usage in percent
	DBConnectionPoolUsage prometheus.Gauge
}

// NewPrometheus registers the collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		intake: factory.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_messages_intake_total",
			Help: "Total messages received in the intake topic",
		}),
		retry: factory.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_messages_retry_total",
			Help: "Total messages sent to the retry topic",
		}),
		deadLetter: factory.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_messages_deadletter_total",
			Help: "Total messages sent to the dead letter topic",
		}),
		success: factory.NewCounter(prometheus.CounterOpts{
			Name: "orderflow_messages_success_total",
			Help: "Total messages processed successfully",
		}),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orderflow_operation_duration_seconds",
				Help:    "Downstream operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		DBConnectionPoolUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_db_connection_pool_usage_percent",
			Help: "Dead letter database connection pool usage",
		}),
	}
}

func (p *Prometheus) IntakeReceived() { p.intake.Inc() }
func (p *Prometheus) RetrySent()      { p.retry.Inc() }
func (p *Prometheus) DeadLetterSent() { p.deadLetter.Inc() }
func (p *Prometheus) Succeeded()      { p.success.Inc() }

func (p *Prometheus) ObserveOperation(stage string, d time.Duration) {
	p.latency.WithLabelValues(stage).Observe(d.Seconds())
}

// Counting keeps plain in-process counts for tests.
type Counting struct {
	Intake     atomic.Int64
	Retry      atomic.Int64
	DeadLetter atomic.Int64
	Success    atomic.Int64
}

func (c *Counting) IntakeReceived()                        { c.Intake.Add(1) }
func (c *Counting) RetrySent()                             { c.Retry.Add(1) }
func (c *Counting) DeadLetterSent()                        { c.DeadLetter.Add(1) }
func (c *Counting) Succeeded()                             { c.Success.Add(1) }
func (c *Counting) ObserveOperation(string, time.Duration) {}

// Nop discards everything.
type Nop struct{}

func (Nop) IntakeReceived()                        {}
func (Nop) RetrySent()                             {}
func (Nop) DeadLetterSent()                        {}
func (Nop) Succeeded()                             {}
func (Nop) ObserveOperation(string, time.Duration) {}
