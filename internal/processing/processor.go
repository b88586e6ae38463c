// Package processing applies the Created -> Processed transition. It is safe
// to run any number of times per order and from concurrent callers.
package processing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/metrics"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/orders"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/retry"
)

// Outcome says what Process did to the order.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	// OutcomeSkipped means the order was not in Created, or another processor
	// won the transition.
	OutcomeSkipped
	// OutcomeNotFound means the order does not exist. It is not an error: the
	// event is stale or was published for an order that was never persisted.
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Processor is shared by the stream consumer and the SQS worker.
type Processor struct {
	store   orders.Store
	policy  *retry.Policy
	metrics metrics.Recorder
	source  string
	logger  zerolog.Logger
}

// NewProcessor builds a processor. source labels its metrics (stream, queue).
func NewProcessor(store orders.Store, policy *retry.Policy, rec metrics.Recorder, source string, logger zerolog.Logger) *Processor {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Processor{
		store:   store,
		policy:  policy,
		metrics: rec,
		source:  source,
		logger:  logger.With().Str("component", "processor").Str("source", source).Logger(),
	}
}

// Process reads the order and, if it is still Created, moves it to Processed
// with a compare-and-swap on the prior status. Transient store failures are
// retried by the policy and returned once exhausted.
func (p *Processor) Process(ctx context.Context, orderID string) (Outcome, error) {
	if orderID == "" {
		return OutcomeSkipped, apperr.Invalidf("order id is required")
	}
	log := p.logger.With().Str("order_id", orderID).Logger()

	order, err := retry.Do(ctx, p.policy, "get order", func(ctx context.Context) (*orders.Order, error) {
		return p.store.Get(ctx, orderID)
	})
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if order == nil {
		log.Warn().Msg("order not found")
		p.metrics.Skipped(p.source, OutcomeNotFound.String())
		return OutcomeNotFound, nil
	}
	if order.Status != orders.StatusCreated {
		log.Info().Str("status", string(order.Status)).Msg("order already handled, skipping")
		p.metrics.Skipped(p.source, "not_created")
		return OutcomeSkipped, nil
	}

	err = p.policy.Run(ctx, "transition order", func(ctx context.Context) error {
		_, err := p.store.TransitionStatus(ctx, orderID, orders.StatusCreated, orders.StatusProcessed)
		return err
	})
	switch {
	case errors.Is(err, orders.ErrStatusMismatch):
		log.Info().Msg("order transitioned concurrently, skipping")
		p.metrics.Skipped(p.source, "lost_race")
		return OutcomeSkipped, nil
	case errors.Is(err, orders.ErrNotFound):
		log.Warn().Msg("order disappeared before transition")
		p.metrics.Skipped(p.source, OutcomeNotFound.String())
		return OutcomeNotFound, nil
	case err != nil:
		return OutcomeSkipped, fmt.Errorf("transition order %s: %w", orderID, err)
	}

	log.Info().Msg("order processed")
	p.metrics.Processed(p.source)
	return OutcomeProcessed, nil
}
