// Package bootstrap wires configuration into the concrete stores, transports
// and retry policies shared by the binaries under cmd/.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/aws"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/checkpoint"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/config"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/metrics"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/orders"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/publisher"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/retry"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/tracing"
)

// AWSClients returns nil without error when cfg needs no AWS service.
func AWSClients(ctx context.Context, cfg *config.Config) (*aws.AWSClients, error) {
	if cfg.Store.Backend != config.StoreDynamoDB && cfg.Publish.Transport != config.TransportSQS {
		return nil, nil
	}
	clients, err := aws.NewAWSClients(ctx, cfg.AWS.Region, cfg.AWS.EndpointOverride)
	if err != nil {
		return nil, fmt.Errorf("init aws clients: %w", err)
	}
	return clients, nil
}

// OrderStore builds the configured order store. Local runs create the
// DynamoDB table if it is missing.
func OrderStore(ctx context.Context, cfg *config.Config, clients *aws.AWSClients, logger zerolog.Logger) (orders.Store, error) {
	if cfg.Store.Backend == config.StoreMemory {
		logger.Warn().Msg("using in-memory order store; orders are lost on restart")
		return orders.NewMemoryStore(), nil
	}
	if clients == nil {
		return nil, fmt.Errorf("dynamodb order store requires aws clients")
	}
	store := orders.NewDynamoStore(clients.DynamoDB, cfg.Store.OrdersTable)
	if cfg.RunLocal {
		if err := store.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("ensure orders table: %w", err)
		}
	}
	return store, nil
}

// CheckpointStore builds the lease-based checkpoint store for the stream
// consumer.
func CheckpointStore(cfg *config.Config, clients *aws.AWSClients) (checkpoint.Store, error) {
	if cfg.Store.Backend == config.StoreMemory {
		return checkpoint.NewMemoryStore(cfg.Kafka.CheckpointLease), nil
	}
	if clients == nil {
		return nil, fmt.Errorf("dynamodb checkpoint store requires aws clients")
	}
	return checkpoint.NewDynamoStore(clients.DynamoDB, cfg.Store.CheckpointTable, cfg.Kafka.CheckpointLease), nil
}

// Transport builds the notification transport selected by PUBLISH_TRANSPORT.
func Transport(cfg *config.Config, clients *aws.AWSClients, logger zerolog.Logger) (publisher.Transport, error) {
	switch cfg.Publish.Transport {
	case config.TransportKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			logger.Warn().Msg("no kafka brokers configured; notifications are dropped")
			return publisher.NewNoopTransport(logger), nil
		}
		return publisher.NewKafkaTransport(publisher.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)), nil
	case config.TransportSQS:
		if clients == nil {
			return nil, fmt.Errorf("sqs transport requires aws clients")
		}
		return publisher.NewSQSTransport(clients.SQS, cfg.Publish.QueueURL), nil
	default:
		return publisher.NewNoopTransport(logger), nil
	}
}

// Tracing registers the SDK tracer provider for service.
func Tracing(ctx context.Context, cfg *config.Config, service string) (*sdktrace.TracerProvider, error) {
	return tracing.Init(ctx, service, tracing.Options{
		Exporter: cfg.Tracing.Exporter,
		Endpoint: cfg.Tracing.Endpoint,
	})
}

// ShutdownTracing flushes pending spans, bounded by a short timeout.
func ShutdownTracing(ctx context.Context, tp *sdktrace.TracerProvider, logger zerolog.Logger) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown")
	}
}

// ProcessingPolicy is the retry policy for store reads and writes on the
// processing path.
func ProcessingPolicy(cfg *config.Config, logger zerolog.Logger) *retry.Policy {
	return retry.New(retry.Config{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.Retry.BaseDelay}, logger)
}

// PublishPolicy is the retry policy for notification sends.
func PublishPolicy(cfg *config.Config, logger zerolog.Logger) *retry.Policy {
	return retry.New(retry.Config{MaxRetries: cfg.Publish.MaxRetries, BaseDelay: cfg.Publish.BaseDelay}, logger)
}

// OwnerID returns the configured consumer owner or a host-unique one.
func OwnerID(cfg *config.Config) string {
	if cfg.Kafka.OwnerID != "" {
		return cfg.Kafka.OwnerID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "consumer"
	}
	return host + "-" + uuid.NewString()[:8]
}

// ServeMetrics exposes /metrics and /healthz on addr until ctx is done.
// It returns immediately when addr is empty.
func ServeMetrics(ctx context.Context, addr string, prom *metrics.Prometheus, logger zerolog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
}
