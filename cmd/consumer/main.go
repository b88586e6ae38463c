// Command consumer moves Created orders to Processed. With Kafka brokers
// configured it consumes the notification stream with durable checkpoints;
// otherwise it polls the orders API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/bootstrap"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/config"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/consumer"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/fallback"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/logging"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/metrics"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/processing"
)

const serviceName = "orders-consumer"

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateConsumer()
	}
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(serviceName, cfg.LogLevel, cfg.RunLocal)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := bootstrap.Tracing(ctx, cfg, serviceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}

	prom := metrics.NewPrometheus("orderflow")
	bootstrap.ServeMetrics(ctx, cfg.MetricsAddr, prom, logger)

	err = run(ctx, cfg, prom, logger)
	bootstrap.ShutdownTracing(ctx, tp, logger)
	if err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("consumer exited")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, rec metrics.Recorder, logger zerolog.Logger) error {
	policy := bootstrap.ProcessingPolicy(cfg, logger)

	if !cfg.StreamEnabled() {
		logger.Info().Str("orders_api", cfg.Fallback.OrdersAPIBaseURL).Msg("no stream configured, using poll-based fallback")
		api := fallback.NewHTTPClient(cfg.Fallback.OrdersAPIBaseURL, fallback.WithRequestTimeout(cfg.Fallback.RequestTimeout))
		return fallback.NewPoller(api, cfg.Fallback.PollInterval, policy, rec, logger).Run(ctx)
	}

	clients, err := bootstrap.AWSClients(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := bootstrap.OrderStore(ctx, cfg, clients, logger)
	if err != nil {
		return err
	}
	checkpoints, err := bootstrap.CheckpointStore(cfg, clients)
	if err != nil {
		return err
	}

	proc := processing.NewProcessor(store, policy, rec, metrics.SourceStream, logger)
	c := consumer.New(consumer.Config{
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Group:     cfg.Kafka.Group,
		OwnerID:   bootstrap.OwnerID(cfg),
		IdleRenew: cfg.Kafka.CheckpointLease / 3,
	}, checkpoints, proc, rec, logger)
	return c.Run(ctx)
}
