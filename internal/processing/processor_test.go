package processing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/metrics"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/orders"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/retry"
)

const orderID = "5b0f2a34-6f57-4a43-9a57-2f1b2f0d8c11"

func testPolicy() *retry.Policy {
	return retry.New(retry.Config{MaxRetries: 3, BaseDelay: time.Millisecond}, zerolog.Nop())
}

func seed(t *testing.T, store orders.Store, id string, status orders.Status) {
	t.Helper()
	o, err := orders.NewOrder(id, orders.CreateInput{
		CustomerName: "Ada",
		Items: []orders.ItemInput{
			{ProductID: "p-1", ProductName: "Widget", Quantity: 1, UnitPrice: orders.MoneyFromFloat(3.5)},
		},
	}, time.Now())
	require.NoError(t, err)
	_, err = store.Create(context.Background(), o)
	require.NoError(t, err)
	if status != orders.StatusCreated {
		_, err = store.UpdateStatus(context.Background(), id, status)
		require.NoError(t, err)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	store := orders.NewMemoryStore()
	seed(t, store, orderID, orders.StatusCreated)
	p := NewProcessor(store, testPolicy(), metrics.Nop{}, metrics.SourceStream, zerolog.Nop())
	ctx := context.Background()

	out, err := p.Process(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, out)
	first, _ := store.Get(ctx, orderID)
	require.Equal(t, orders.StatusProcessed, first.Status)
	require.NotNil(t, first.ProcessedAt)

	out, err = p.Process(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, out)
	second, _ := store.Get(ctx, orderID)
	require.Equal(t, *first.ProcessedAt, *second.ProcessedAt)
}

func TestProcessSkipsNonCreated(t *testing.T) {
	store := orders.NewMemoryStore()
	seed(t, store, orderID, orders.StatusCancelled)
	p := NewProcessor(store, testPolicy(), nil, metrics.SourceStream, zerolog.Nop())

	out, err := p.Process(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, out)
	o, _ := store.Get(context.Background(), orderID)
	require.Equal(t, orders.StatusCancelled, o.Status)
}

func TestProcessMissingOrder(t *testing.T) {
	p := NewProcessor(orders.NewMemoryStore(), testPolicy(), nil, metrics.SourceStream, zerolog.Nop())
	out, err := p.Process(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, OutcomeNotFound, out)
}

// flakyStore fails Get with a transient error a fixed number of times.
type flakyStore struct {
	orders.Store
	mu       sync.Mutex
	failures int
	gets     int
}

func (s *flakyStore) Get(ctx context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	s.gets++
	fail := s.gets <= s.failures
	s.mu.Unlock()
	if fail {
		return nil, apperr.Transient(errors.New("store unavailable"))
	}
	return s.Store.Get(ctx, id)
}

func TestProcessRetriesTransientStoreErrors(t *testing.T) {
	store := &flakyStore{Store: orders.NewMemoryStore(), failures: 2}
	seed(t, store, orderID, orders.StatusCreated)

	out, err := NewProcessor(store, testPolicy(), nil, metrics.SourceQueue, zerolog.Nop()).Process(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, out)
	require.Equal(t, 3, store.gets)
}

func TestProcessSurfacesExhaustedRetries(t *testing.T) {
	store := &flakyStore{Store: orders.NewMemoryStore(), failures: 100}
	seed(t, store, orderID, orders.StatusCreated)

	_, err := NewProcessor(store, testPolicy(), nil, metrics.SourceQueue, zerolog.Nop()).Process(context.Background(), orderID)
	require.Error(t, err)
	require.True(t, apperr.IsRetryable(err))
	require.Equal(t, 4, store.gets)
}

func TestConcurrentProcessorsConverge(t *testing.T) {
	store := orders.NewMemoryStore()
	seed(t, store, orderID, orders.StatusCreated)
	stream := NewProcessor(store, testPolicy(), nil, metrics.SourceStream, zerolog.Nop())
	fallback := NewProcessor(store, testPolicy(), nil, metrics.SourceFallback, zerolog.Nop())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []Outcome
	)
	for i := 0; i < 8; i++ {
		p := stream
		if i%2 == 1 {
			p = fallback
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := p.Process(context.Background(), orderID)
			if err != nil {
				out = -1
			}
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		}()
	}
	wg.Wait()

	processed := 0
	for _, o := range outcomes {
		require.NotEqual(t, Outcome(-1), o)
		if o == OutcomeProcessed {
			processed++
		}
	}
	require.Equal(t, 1, processed)
	final, _ := store.Get(context.Background(), orderID)
	require.Equal(t, orders.StatusProcessed, final.Status)
	require.NotNil(t, final.ProcessedAt)
}
