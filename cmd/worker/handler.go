package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/metrics"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/notification"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/processing"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/tracing"
)

// OrderProcessor applies one order-created event.
type OrderProcessor interface {
	Process(ctx context.Context, orderID string) (processing.Outcome, error)
}

// Flusher is implemented by sinks that buffer, such as the CloudWatch
// recorder.
type Flusher interface {
	Flush(ctx context.Context) error
}

// FlushFunc adapts a function, such as a tracer provider's ForceFlush, to
// Flusher.
type FlushFunc func(ctx context.Context) error

func (f FlushFunc) Flush(ctx context.Context) error { return f(ctx) }

type HandlerOption func(*Handler)

// WithFlusher adds a sink flushed after every batch.
func WithFlusher(f Flusher) HandlerOption {
	return func(h *Handler) { h.flushers = append(h.flushers, f) }
}

// Handler processes SQS batches of order notifications. Records that fail
// with a retryable error are reported back so SQS redelivers only those;
// records that can never succeed are logged and acknowledged.
type Handler struct {
	processor OrderProcessor
	metrics   metrics.Recorder
	logger    zerolog.Logger
	tracer    trace.Tracer
	flushers  []Flusher
}

func NewHandler(processor OrderProcessor, rec metrics.Recorder, logger zerolog.Logger, opts ...HandlerOption) *Handler {
	if rec == nil {
		rec = metrics.Nop{}
	}
	h := &Handler{
		processor: processor,
		metrics:   rec,
		logger:    logger.With().Str("component", "worker").Logger(),
		tracer:    tracing.Tracer(),
	}
	if f, ok := rec.(Flusher); ok {
		h.flushers = append(h.flushers, f)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	h.logger.Info().Int("records", len(ev.Records)).Msg("received sqs batch")

	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := h.handleRecord(ctx, rec); err != nil {
			h.logger.Error().Err(err).Str("message_id", rec.MessageId).Msg("record failed, leaving on queue")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}

	for _, f := range h.flushers {
		if err := f.Flush(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("flush after batch failed")
		}
	}
	return resp, nil
}

// messageCarrier reads the trace context the SQS transport put in the
// message attributes.
func messageCarrier(rec events.SQSMessage) propagation.MapCarrier {
	carrier := propagation.MapCarrier{}
	for k, v := range rec.MessageAttributes {
		if v.StringValue != nil {
			carrier[k] = *v.StringValue
		}
	}
	return carrier
}

func (h *Handler) handleRecord(ctx context.Context, rec events.SQSMessage) (err error) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, messageCarrier(rec))
	ctx, span := h.tracer.Start(ctx, "process sqs message", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("messaging.message.id", rec.MessageId))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "record failed")
		}
		span.End()
	}()

	log := h.logger.With().Str("message_id", rec.MessageId).Logger()

	envs, err := notification.Parse([]byte(rec.Body))
	if err != nil {
		log.Error().Err(err).Msg("dropping malformed message")
		h.metrics.Skipped(metrics.SourceQueue, "malformed")
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
			h.metrics.Skipped(metrics.SourceQueue, "malformed")
			continue
		}
		if _, err := h.processor.Process(ctx, payload.OrderID); err != nil {
			if apperr.IsFatal(err) {
				log.Error().Err(err).Str("order_id", payload.OrderID).Msg("dropping unprocessable event")
				continue
			}
			return fmt.Errorf("process order %s: %w", payload.OrderID, err)
		}
	}
	return nil
}
