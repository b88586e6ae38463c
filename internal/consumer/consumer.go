// Package consumer runs the stream side of the pipeline: one goroutine per
// partition, each claiming its segment, processing order-created events and
// committing a durable checkpoint after every fully processed message.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/checkpoint"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/metrics"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/notification"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/processing"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/tracing"
)

// Processor applies one order-created event.
type Processor interface {
	Process(ctx context.Context, orderID string) (processing.Outcome, error)
}

type Config struct {
	Brokers []string
	Topic   string
	Group   string
	OwnerID string
	// IdleRenew bounds a single fetch; an idle segment renews its lease at
	// this interval. Keep it well under the checkpoint lease.
	IdleRenew time.Duration
	// RestartBackoff is the pause before a failed segment is claimed again.
	RestartBackoff time.Duration
	// ShutdownTimeout bounds the final commit and release after cancellation.
	ShutdownTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.IdleRenew <= 0 {
		c.IdleRenew = checkpoint.DefaultLease / 3
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = 2 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

type Consumer struct {
	cfg         Config
	checkpoints checkpoint.Store
	processor   Processor
	metrics     metrics.Recorder
	logger      zerolog.Logger
	tracer      trace.Tracer
	newReader   ReaderFactory
	partitions  PartitionLister
}

type Option func(*Consumer)

func WithReaderFactory(f ReaderFactory) Option {
	return func(c *Consumer) { c.newReader = f }
}

func WithPartitions(f PartitionLister) Option {
	return func(c *Consumer) { c.partitions = f }
}

func New(cfg Config, checkpoints checkpoint.Store, processor Processor, rec metrics.Recorder, logger zerolog.Logger, opts ...Option) *Consumer {
	cfg.setDefaults()
	if rec == nil {
		rec = metrics.Nop{}
	}
	c := &Consumer{
		cfg:         cfg,
		checkpoints: checkpoints,
		processor:   processor,
		metrics:     rec,
		logger:      logger.With().Str("component", "consumer").Str("owner", cfg.OwnerID).Logger(),
		tracer:      tracing.Tracer(),
		newReader:   KafkaReaders(cfg.Brokers, cfg.Topic),
		partitions:  KafkaPartitions(cfg.Brokers, cfg.Topic),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run blocks until ctx is cancelled. Errors returned before the segments start
// (checkpoint table, partition discovery) are fatal for the host; errors
// inside a segment are logged and the segment is restarted.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.checkpoints.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure checkpoint store: %w", err)
	}
	parts, err := c.partitions(ctx)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("topic %s has no partitions", c.cfg.Topic)
	}
	c.logger.Info().Str("topic", c.cfg.Topic).Ints("partitions", parts).Msg("stream consumer started")

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range parts {
		p := p
		g.Go(func() error {
			c.runSegment(gctx, p)
			return nil
		})
	}
	err = g.Wait()
	c.logger.Info().Msg("stream consumer stopped")
	return err
}

func (c *Consumer) segmentID(partition int) string {
	return fmt.Sprintf("%s/%s/%d", c.cfg.Group, c.cfg.Topic, partition)
}

func (c *Consumer) runSegment(ctx context.Context, partition int) {
	segment := c.segmentID(partition)
	log := c.logger.With().Str("segment", segment).Logger()
	for {
		err := c.consumeSegment(ctx, segment, partition, log)
		if ctx.Err() != nil {
			return
		}
		switch {
		case errors.Is(err, checkpoint.ErrOwnedElsewhere):
			log.Debug().Msg("segment owned elsewhere, waiting")
		case err != nil:
			log.Error().Err(err).Msg("segment failed, restarting from last checkpoint")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.RestartBackoff):
		}
	}
}

// consumeSegment owns the segment until ctx is cancelled or an error occurs.
// The lease is always released on the way out.
func (c *Consumer) consumeSegment(ctx context.Context, segment string, partition int, log zerolog.Logger) error {
	pos, err := c.checkpoints.Claim(ctx, segment, c.cfg.OwnerID)
	if err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ShutdownTimeout)
		defer cancel()
		if err := c.checkpoints.Release(rctx, segment, c.cfg.OwnerID); err != nil {
			log.Warn().Err(err).Msg("release segment")
		}
	}()

	start := pos.Next()
	if !pos.Found {
		start = kafka.FirstOffset
	}
	reader, err := c.newReader(partition, start)
	if err != nil {
		return fmt.Errorf("open reader: %w", err)
	}
	defer reader.Close()
	log.Info().Int64("offset", start).Msg("segment claimed")

	for {
		fctx, cancel := context.WithTimeout(ctx, c.cfg.IdleRenew)
		msg, err := reader.FetchMessage(fctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if err := c.checkpoints.Renew(ctx, segment, c.cfg.OwnerID); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.handleMessage(ctx, segment, msg, log); err != nil {
			return fmt.Errorf("offset %d: %w", msg.Offset, err)
		}

		// a commit that has started finishes even if we are shutting down
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ShutdownTimeout)
		err = c.checkpoints.Commit(cctx, segment, c.cfg.OwnerID, msg.Offset)
		cancel()
		if err != nil {
			return err
		}
		c.metrics.CheckpointCommitted(segment)
		log.Debug().Int64("offset", msg.Offset).Msg("checkpoint committed")

		if ctx.Err() != nil {
			return nil
		}
	}
}

// handleMessage processes every order-created event in msg. A non-nil return
// means the checkpoint must not move. Malformed payloads can never succeed,
// so they are logged and treated as handled.
func (c *Consumer) handleMessage(ctx context.Context, segment string, msg kafka.Message, log zerolog.Logger) error {
	ctx = tracing.Extract(ctx, msg)
	ctx, span := c.tracer.Start(ctx, "consume "+c.cfg.Topic, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.Int("messaging.kafka.partition", msg.Partition),
		attribute.Int64("messaging.kafka.message.offset", msg.Offset),
		attribute.String("messaging.kafka.message.key", string(msg.Key)),
	)

	log = log.With().Int64("offset", msg.Offset).Logger()
	envs, err := notification.Parse(msg.Value)
	if err != nil {
		log.Error().Err(err).Msg("dropping malformed message")
		c.metrics.Skipped(metrics.SourceStream, "malformed")
		return nil
	}

	for _, env := range envs {
		if env.EventType != notification.TypeOrderCreated {
			log.Debug().Str("event_type", env.EventType).Msg("ignoring event type")
			continue
		}
		payload, err := env.OrderCreated()
		if err != nil {
			log.Error().Err(err).Str("event_id", env.ID).Msg("dropping malformed event")
			c.metrics.Skipped(metrics.SourceStream, "malformed")
			continue
		}
		if _, err := c.processor.Process(ctx, payload.OrderID); err != nil {
			span.RecordError(err)
			return fmt.Errorf("process order %s: %w", payload.OrderID, err)
		}
	}
	return nil
}
