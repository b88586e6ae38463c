package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/metrics"
)

// Notifier announces a freshly persisted order.
type Notifier interface {
	NotifyOrderCreated(ctx context.Context, order *Order) error
}

// Service is the order creation workflow plus the read/update surface used by
// the HTTP boundary.
type Service struct {
	store    Store
	notifier Notifier
	metrics  metrics.Recorder
	logger   zerolog.Logger
	newID    func() string
	nowFunc  func() time.Time
}

func NewService(store Store, notifier Notifier, rec metrics.Recorder, logger zerolog.Logger) *Service {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		metrics:  rec,
		logger:   logger.With().Str("component", "orders").Logger(),
		newID:    uuid.NewString,
		nowFunc:  time.Now,
	}
}

// Create persists a new order and then announces it. Persistence is the
// durability boundary: a failed announcement is logged and counted but the
// created order is still returned.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	order, err := NewOrder(s.newID(), in, s.nowFunc())
	if err != nil {
		return nil, err
	}
	created, err := s.store.Create(ctx, order)
	if err != nil {
		return nil, err
	}
	s.metrics.OrderCreated()
	s.logger.Info().Str("order_id", created.ID).Str("total", created.TotalAmount.String()).Msg("order created")

	if s.notifier != nil {
		if err := s.notifier.NotifyOrderCreated(ctx, created); err != nil {
			s.metrics.PublishFailed()
			s.logger.Error().Err(err).Str("order_id", created.ID).Msg("order created but notification failed")
		}
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, nil
}

func (s *Service) List(ctx context.Context) ([]Order, error) {
	return s.store.List(ctx)
}

// UpdateStatus sets the status. When expected is non-empty the write only
// happens if the order is currently in that status.
func (s *Service) UpdateStatus(ctx context.Context, id string, status, expected Status) (*Order, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var (
		o   *Order
		err error
	)
	if expected != "" {
		o, err = s.store.TransitionStatus(ctx, id, expected, status)
	} else {
		o, err = s.store.UpdateStatus(ctx, id, status)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", id).Str("status", string(o.Status)).Msg("order status updated")
	return o, nil
}

// ValidateID rejects ids that are empty or not UUIDs.
func ValidateID(id string) error {
	if id == "" {
		return apperr.Invalidf("order id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return apperr.Invalidf("invalid order id %q", id)
	}
	return nil
}
