package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/orderflow/internal/core/escalation"
	"github.com/vietddude/orderflow/internal/infra/broker"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML content, applies defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.applyDefaults()
	return &cfg
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Health.Port == 0 {
		c.Health.Port = 9090
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Broker.Type == "" {
		c.Broker.Type = broker.TypeMemory
	}
	if c.Broker.Group == "" {
		c.Broker.Group = "test_group_id"
	}
	if c.Broker.Concurrency <= 0 {
		c.Broker.Concurrency = 4
	}
	if c.Broker.RedeliveryInterval == 0 {
		c.Broker.RedeliveryInterval = time.Second
	}
	if c.Broker.RedeliveryAttempts == 0 {
		c.Broker.RedeliveryAttempts = 5
	}

	if c.Topics.Intake == "" {
		c.Topics.Intake = "createOrder"
	}
	if c.Topics.Retry == "" {
		c.Topics.Retry = "createOrderRetry"
	}
	if c.Topics.DeadLetter == "" {
		c.Topics.DeadLetter = "createOrderDeadLetter"
	}

	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 5
	}
	if c.Retry.IntakeMode == "" {
		c.Retry.IntakeMode = string(escalation.IntakeUnified)
	}

	if c.Operation.Type == "" {
		c.Operation.Type = "simulated"
	}
	if c.Operation.FailMarker == "" {
		c.Operation.FailMarker = "fail"
	}
	if c.Operation.Timeout == 0 {
		c.Operation.Timeout = 10 * time.Second
	}

	if c.Redis.MinIdle == 0 {
		c.Redis.MinIdle = 30 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "pgx"
	}
	if c.DeadLetter.Store == "" {
		c.DeadLetter.Store = "auto"
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Retry.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("retry.max_retries must be >= 1, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.Interval < 0 {
		errs = append(errs, errors.New("retry.interval must not be negative"))
	}
	if _, err := escalation.ParseIntakeMode(c.Retry.IntakeMode); err != nil {
		errs = append(errs, fmt.Errorf("retry.intake_mode: %w", err))
	}

	switch c.Broker.Type {
	case broker.TypeMemory:
	case broker.TypeRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis broker"))
		}
	case broker.TypeKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required for the kafka broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown broker type %q", c.Broker.Type))
	}

	if c.Topics.Intake == c.Topics.Retry ||
		c.Topics.Intake == c.Topics.DeadLetter ||
		c.Topics.Retry == c.Topics.DeadLetter {
		errs = append(errs, errors.New("intake, retry and dead_letter topics must be distinct"))
	}

	switch c.Operation.Type {
	case "simulated":
	case "http":
		if c.Operation.URL == "" {
			errs = append(errs, errors.New("operation.url is required for the http operation"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown operation type %q", c.Operation.Type))
	}

	switch c.DeadLetter.Store {
	case "auto", "memory":
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres store"))
		}
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dead_letter.store %q", c.DeadLetter.Store))
	}

	return errors.Join(errs...)
}
