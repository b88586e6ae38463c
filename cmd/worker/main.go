package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/bootstrap"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/config"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/logging"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/metrics"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/processing"
)

const serviceName = "orders-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(serviceName, cfg.LogLevel, cfg.RunLocal)

	ctx := context.Background()
	tp, err := bootstrap.Tracing(ctx, cfg, serviceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer bootstrap.ShutdownTracing(ctx, tp, logger)

	clients, err := bootstrap.AWSClients(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init aws clients")
	}
	store, err := bootstrap.OrderStore(ctx, cfg, clients, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init order store")
	}

	var rec metrics.Recorder = metrics.Nop{}
	if clients != nil {
		rec = metrics.NewCloudWatch(clients.CloudWatch, "OrderFlow")
	}
	proc := processing.NewProcessor(store, bootstrap.ProcessingPolicy(cfg, logger), rec, metrics.SourceQueue, logger)
	h := NewHandler(proc, rec, logger, WithFlusher(FlushFunc(tp.ForceFlush)))

	// If RUN_LOCAL=true, handle a single event built from LOCAL_SQS_BODY and exit.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			logger.Fatal().Msg("LOCAL_SQS_BODY is required when RUN_LOCAL=true")
		}
		resp, err := h.Handle(ctx, events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("local handler error")
		}
		logger.Info().Int("failures", len(resp.BatchItemFailures)).Msg("local event handled")
		return
	}

	lambda.Start(h.Handle)
}
