// Package config loads process settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"

	TransportKafka = "kafka"
	TransportSQS   = "sqs"
	TransportNone  = "none"
)

type Config struct {
	HTTPAddr    string `yaml:"httpAddr"`
	MetricsAddr string `yaml:"metricsAddr"`
	RunLocal    bool   `yaml:"runLocal"`
	LogLevel    string `yaml:"logLevel"`

	AWS      AWSConfig      `yaml:"aws"`
	Store    StoreConfig    `yaml:"store"`
	Publish  PublishConfig  `yaml:"publish"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Fallback FallbackConfig `yaml:"fallback"`
	Retry    RetryConfig    `yaml:"retry"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type AWSConfig struct {
	Region           string `yaml:"region"`
	EndpointOverride string `yaml:"endpointOverride"`
}

type StoreConfig struct {
	Backend         string `yaml:"backend"`
	OrdersTable     string `yaml:"ordersTable"`
	CheckpointTable string `yaml:"checkpointTable"`
}

type PublishConfig struct {
	Transport  string        `yaml:"transport"`
	QueueURL   string        `yaml:"queueUrl"`
	MaxRetries int           `yaml:"maxRetries"`
	BaseDelay  time.Duration `yaml:"baseDelay"`
}

type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers"`
	Topic           string        `yaml:"topic"`
	Group           string        `yaml:"group"`
	OwnerID         string        `yaml:"ownerId"`
	CheckpointLease time.Duration `yaml:"checkpointLease"`
}

type FallbackConfig struct {
	OrdersAPIBaseURL string        `yaml:"ordersApiBaseUrl"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`
}

type TracingConfig struct {
	// Exporter is otlp, stdout or none; empty means otlp when Endpoint is set.
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"maxRetries"`
	BaseDelay  time.Duration `yaml:"baseDelay"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		AWS:      AWSConfig{Region: "us-east-1"},
		Store: StoreConfig{
			Backend:         StoreDynamoDB,
			OrdersTable:     "orders",
			CheckpointTable: "stream_checkpoints",
		},
		Publish: PublishConfig{
			Transport:  TransportKafka,
			MaxRetries: 3,
			BaseDelay:  time.Second,
		},
		Kafka: KafkaConfig{
			Topic:           "orders",
			Group:           "order-processor",
			CheckpointLease: 30 * time.Second,
		},
		Fallback: FallbackConfig{
			OrdersAPIBaseURL: "http://localhost:8080",
			PollInterval:     5 * time.Second,
			RequestTimeout:   10 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  2 * time.Second,
		},
	}
}

// Load layers CONFIG_FILE (if set) and then the environment over Default.
func Load() (*Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	if raw, ok := lookup("RUN_LOCAL"); ok {
		cfg.RunLocal = isTruthy(raw)
	}

	setString(&cfg.AWS.Region, "AWS_REGION")
	setString(&cfg.AWS.EndpointOverride, "AWS_ENDPOINT_OVERRIDE")

	setString(&cfg.Store.Backend, "STORE_BACKEND")
	setString(&cfg.Store.OrdersTable, "ORDERS_TABLE")
	setString(&cfg.Store.CheckpointTable, "CHECKPOINT_TABLE")

	setString(&cfg.Publish.Transport, "PUBLISH_TRANSPORT")
	setString(&cfg.Publish.QueueURL, "ORDERS_QUEUE_URL")

	if raw, ok := lookup("KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(raw)
	}
	setString(&cfg.Kafka.Topic, "KAFKA_TOPIC")
	setString(&cfg.Kafka.Group, "CONSUMER_GROUP")
	setString(&cfg.Kafka.OwnerID, "CONSUMER_OWNER_ID")

	setString(&cfg.Fallback.OrdersAPIBaseURL, "ORDERS_API_BASE_URL")

	setString(&cfg.Tracing.Exporter, "TRACING_EXPORTER")
	setString(&cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	var errs []error
	errs = append(errs,
		setDuration(&cfg.Kafka.CheckpointLease, "CHECKPOINT_LEASE"),
		setDuration(&cfg.Fallback.PollInterval, "POLL_INTERVAL"),
		setDuration(&cfg.Fallback.RequestTimeout, "ORDERS_API_TIMEOUT"),
		setInt(&cfg.Retry.MaxRetries, "RETRY_MAX_RETRIES"),
		setDuration(&cfg.Retry.BaseDelay, "RETRY_BASE_DELAY"),
		setInt(&cfg.Publish.MaxRetries, "PUBLISH_MAX_RETRIES"),
		setDuration(&cfg.Publish.BaseDelay, "PUBLISH_BASE_DELAY"),
	)
	return errors.Join(errs...)
}

// Validate checks the settings every binary depends on.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case StoreDynamoDB, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreDynamoDB, StoreMemory, c.Store.Backend))
	}
	switch c.Publish.Transport {
	case TransportKafka:
		if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
			errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
		}
	case TransportSQS:
		if c.Publish.QueueURL == "" {
			errs = append(errs, errors.New("ORDERS_QUEUE_URL is required for the sqs transport"))
		}
	case TransportNone:
	default:
		errs = append(errs, fmt.Errorf("PUBLISH_TRANSPORT must be kafka, sqs or none, got %q", c.Publish.Transport))
	}
	switch c.Tracing.Exporter {
	case "", "otlp", "stdout", "none":
	default:
		errs = append(errs, fmt.Errorf("TRACING_EXPORTER must be otlp, stdout or none, got %q", c.Tracing.Exporter))
	}
	if c.Store.Backend == StoreDynamoDB && c.Store.OrdersTable == "" {
		errs = append(errs, errors.New("ORDERS_TABLE is required"))
	}
	if c.Retry.MaxRetries < 0 || c.Publish.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}
	if c.Retry.BaseDelay <= 0 || c.Publish.BaseDelay <= 0 {
		errs = append(errs, errors.New("retry base delays must be positive"))
	}
	if c.Fallback.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.Fallback.RequestTimeout <= 0 {
		errs = append(errs, errors.New("ORDERS_API_TIMEOUT must be positive"))
	}
	if c.Kafka.CheckpointLease <= 0 {
		errs = append(errs, errors.New("CHECKPOINT_LEASE must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateConsumer checks the settings only the stream consumer host needs.
// An in-process order store cannot see the orders the API created, so every
// streamed event would resolve to not found and its checkpoint would move on.
func (c *Config) ValidateConsumer() error {
	if c.StreamEnabled() && c.Store.Backend == StoreMemory {
		return fmt.Errorf("STORE_BACKEND=%s cannot be used with KAFKA_BROKERS: the consumer needs the durable order store", StoreMemory)
	}
	return nil
}

// StreamEnabled reports whether the consumer should read the event stream
// instead of polling.
func (c *Config) StreamEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

func lookup(key string) (string, bool) {
	val := strings.TrimSpace(os.Getenv(key))
	return val, val != ""
}

func setString(dst *string, key string) {
	if val, ok := lookup(key); ok {
		*dst = val
	}
}

func setInt(dst *int, key string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s must be a duration like 5s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isTruthy(value string) bool {
	value = strings.ToLower(value)
	return value == "1" || value == "true" || value == "yes"
}
