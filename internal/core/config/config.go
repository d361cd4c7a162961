package config

import (
	"time"

	"github.com/vietddude/orderflow/internal/infra/broker"
	"github.com/vietddude/orderflow/internal/infra/kafka"
	redisclient "github.com/vietddude/orderflow/internal/infra/redis"
	"github.com/vietddude/orderflow/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Health     HealthConfig       `yaml:"health"`
	Logging    LoggingConfig      `yaml:"logging"`
	Broker     broker.Config      `yaml:"broker"`
	Topics     TopicsConfig       `yaml:"topics"`
	Retry      RetryConfig        `yaml:"retry"`
	Operation  OperationConfig    `yaml:"operation"`
	Redis      redisclient.Config `yaml:"redis"`
	Kafka      kafka.Config       `yaml:"kafka"`
	Database   postgres.Config    `yaml:"database"`
	DeadLetter DeadLetterConfig   `yaml:"dead_letter"`
}

// ServerConfig holds the ingress HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// HealthConfig holds the health/metrics server settings.
type HealthConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 = disabled
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TopicsConfig names the three topics of the retry flow.
type TopicsConfig struct {
	Intake     string `yaml:"intake"`
	Retry      string `yaml:"retry"`
	DeadLetter string `yaml:"dead_letter"`
}

// RetryConfig holds the escalation settings.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Interval   time.Duration `yaml:"interval"`    // fixed wait before each retry attempt
	IntakeMode string        `yaml:"intake_mode"` // unified, reference
}

// OperationConfig selects the protected downstream call.
type OperationConfig struct {
	Type       string        `yaml:"type"` // simulated, http
	FailMarker string        `yaml:"fail_marker"`
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DeadLetterConfig holds dead-letter storage settings.
type DeadLetterConfig struct {
	Store     string        `yaml:"store"`     // auto, memory, postgres, redis
	Retention time.Duration `yaml:"retention"` // 0 = keep forever
}
