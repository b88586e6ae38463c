// Package fallback drives orders from Created to Processed by polling the
// orders API. It runs only when no stream transport is configured.
package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/metrics"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/orders"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/processing"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/retry"
)

const DefaultInterval = 5 * time.Second

type Poller struct {
	api      OrdersAPI
	interval time.Duration
	policy   *retry.Policy
	metrics  metrics.Recorder
	logger   zerolog.Logger
}

func NewPoller(api OrdersAPI, interval time.Duration, policy *retry.Policy, rec metrics.Recorder, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Poller{
		api:      api,
		interval: interval,
		policy:   policy,
		metrics:  rec,
		logger:   logger.With().Str("component", "fallback").Logger(),
	}
}

// Run polls until ctx is cancelled. A failed pass is logged and the next one
// runs on schedule.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.interval).Msg("fallback poller started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("fallback poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll makes one pass over the Created orders and returns how many it moved
// to Processed. Only a failure to list is returned; per-order failures are
// logged.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	all, err := retry.Do(ctx, p.policy, "list orders", p.api.ListOrders)
	if err != nil {
		return 0, fmt.Errorf("list orders: %w", err)
	}
	pending := SelectCreated(all)
	if len(pending) == 0 {
		return 0, nil
	}
	p.logger.Debug().Int("pending", len(pending)).Msg("found unprocessed orders")

	processed := 0
	for _, id := range pending {
		if ctx.Err() != nil {
			break
		}
		out, err := p.process(ctx, id)
		if err != nil {
			p.logger.Error().Err(err).Str("order_id", id).Msg("processing order failed")
			continue
		}
		if out == processing.OutcomeProcessed {
			processed++
		}
	}
	return processed, nil
}

// SelectCreated returns the ids of the orders still in Created.
func SelectCreated(list []orders.Order) []string {
	var ids []string
	for _, o := range list {
		if o.Status == orders.StatusCreated {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// process re-reads the order and moves it to Processed only if it is still
// Created; the API rejects the write with a conflict if another processor got
// there first.
func (p *Poller) process(ctx context.Context, id string) (processing.Outcome, error) {
	log := p.logger.With().Str("order_id", id).Logger()

	order, err := retry.Do(ctx, p.policy, "get order", func(ctx context.Context) (*orders.Order, error) {
		return p.api.GetOrder(ctx, id)
	})
	if err != nil {
		return processing.OutcomeSkipped, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		log.Warn().Msg("order not found")
		p.metrics.Skipped(metrics.SourceFallback, processing.OutcomeNotFound.String())
		return processing.OutcomeNotFound, nil
	}
	if order.Status != orders.StatusCreated {
		log.Info().Str("status", string(order.Status)).Msg("order already handled, skipping")
		p.metrics.Skipped(metrics.SourceFallback, "not_created")
		return processing.OutcomeSkipped, nil
	}

	err = p.policy.Run(ctx, "update order status", func(ctx context.Context) error {
		return p.api.UpdateStatus(ctx, id, orders.StatusProcessed, orders.StatusCreated)
	})
	switch {
	case apperr.IsConflict(err):
		log.Info().Msg("order transitioned concurrently, skipping")
		p.metrics.Skipped(metrics.SourceFallback, "lost_race")
		return processing.OutcomeSkipped, nil
	case apperr.IsNotFound(err):
		log.Warn().Msg("order disappeared before transition")
		p.metrics.Skipped(metrics.SourceFallback, processing.OutcomeNotFound.String())
		return processing.OutcomeNotFound, nil
	case err != nil:
		return processing.OutcomeSkipped, fmt.Errorf("update status: %w", err)
	}

	log.Info().Msg("order processed")
	p.metrics.Processed(metrics.SourceFallback)
	return processing.OutcomeProcessed, nil
}
