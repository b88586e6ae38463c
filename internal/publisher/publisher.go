// Package publisher delivers order-created notifications at least once.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/notification"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/orders"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/retry"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/tracing"
)

// Defaults for the publish retry policy.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// Transport sends one encoded envelope. key is the order id; transports that
// partition use it to keep an order's events together.
type Transport interface {
	Send(ctx context.Context, key string, body []byte) error
	Close() error
}

// Publisher wraps a Transport with the retry policy.
type Publisher struct {
	transport Transport
	policy    *retry.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	nowFunc   func() time.Time
}

func New(transport Transport, policy *retry.Policy, logger zerolog.Logger) *Publisher {
	return &Publisher{
		transport: transport,
		policy:    policy,
		logger:    logger.With().Str("component", "publisher").Logger(),
		tracer:    tracing.Tracer(),
		nowFunc:   time.Now,
	}
}

// Publish delivers event, retrying transient transport failures. It fails
// immediately when the event has no order id.
func (p *Publisher) Publish(ctx context.Context, event notification.OrderCreated) error {
	if event.OrderID == "" {
		return apperr.Invalidf("order created event has no order id")
	}
	env, err := event.Wrap(p.nowFunc())
	if err != nil {
		return apperr.Invalid(err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return apperr.Invalid(fmt.Errorf("marshal envelope: %w", err))
	}

	ctx, span := p.tracer.Start(ctx, "publish "+event.EventType, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", event.OrderID),
		attribute.String("event.id", event.EventID),
	)

	err = p.policy.Run(ctx, "publish", func(ctx context.Context) error {
		return p.transport.Send(ctx, event.OrderID, body)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return fmt.Errorf("publish event %s for order %s: %w", event.EventID, event.OrderID, err)
	}
	p.logger.Info().
		Str("order_id", event.OrderID).
		Str("event_id", event.EventID).
		Msg("order created event published")
	return nil
}

// NotifyOrderCreated lets the order service use the publisher directly.
func (p *Publisher) NotifyOrderCreated(ctx context.Context, order *orders.Order) error {
	return p.Publish(ctx, notification.NewOrderCreated(order))
}

func (p *Publisher) Close() error { return p.transport.Close() }

var _ orders.Notifier = (*Publisher)(nil)
