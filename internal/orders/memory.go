package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
)

// MemoryStore keeps orders in a process-local map. It is NOT durable: every
// order is lost when the process exits. Use it for local development and
// tests only, never as the production store.
type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]*Order
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  map[string]*Order{},
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, order *Order) (*Order, error) {
	if order == nil || order.ID == "" {
		return nil, apperr.Invalidf("order id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return nil, fmt.Errorf("create order %s: %w", order.ID, ErrAlreadyExists)
	}
	s.orders[order.ID] = order.clone()
	return order.clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return o.clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Order, error) {
	s.mu.RLock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o.clone())
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status) (*Order, error) {
	return s.update(id, "", status)
}

func (s *MemoryStore) TransitionStatus(_ context.Context, id string, from, to Status) (*Order, error) {
	if !from.Valid() {
		return nil, apperr.Invalidf("unknown order status %q", from)
	}
	return s.update(id, from, to)
}

func (s *MemoryStore) update(id string, expected, status Status) (*Order, error) {
	if !status.Valid() {
		return nil, apperr.Invalidf("unknown order status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if expected != "" && o.Status != expected {
		return nil, fmt.Errorf("order %s: %w", id, ErrStatusMismatch)
	}

	o.Status = status
	switch {
	case status != StatusProcessed:
		o.ProcessedAt = nil
	case o.ProcessedAt == nil:
		now := s.nowFunc().UTC()
		o.ProcessedAt = &now
	}
	return o.clone(), nil
}

var _ Store = (*MemoryStore)(nil)
