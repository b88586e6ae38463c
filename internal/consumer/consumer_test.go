package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/checkpoint"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/metrics"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/notification"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/orders"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/processing"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/retry"
)

// fakeTopic is an in-memory partitioned log.
type fakeTopic struct {
	mu         sync.Mutex
	partitions map[int][]kafka.Message
	opened     map[int][]int64
	openErrs   map[int]int
}

func newFakeTopic(n int) *fakeTopic {
	t := &fakeTopic{
		partitions: map[int][]kafka.Message{},
		opened:     map[int][]int64{},
		openErrs:   map[int]int{},
	}
	for p := 0; p < n; p++ {
		t.partitions[p] = nil
	}
	return t
}

func (t *fakeTopic) append(partition int, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	log := t.partitions[partition]
	t.partitions[partition] = append(log, kafka.Message{
		Partition: partition,
		Offset:    int64(len(log)),
		Value:     value,
	})
}

func (t *fakeTopic) list(context.Context) ([]int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int, 0, len(t.partitions))
	for p := 0; p < len(t.partitions); p++ {
		ids = append(ids, p)
	}
	return ids, nil
}

func (t *fakeTopic) open(partition int, offset int64) (MessageReader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErrs[partition] > 0 {
		t.openErrs[partition]--
		return nil, errors.New("broker unreachable")
	}
	t.opened[partition] = append(t.opened[partition], offset)
	if offset == kafka.FirstOffset {
		offset = 0
	}
	return &fakeReader{topic: t, partition: partition, next: offset}, nil
}

func (t *fakeTopic) openedAt(partition int) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.opened[partition]...)
}

type fakeReader struct {
	topic     *fakeTopic
	partition int
	next      int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.topic.mu.Lock()
		log := r.topic.partitions[r.partition]
		if r.next < int64(len(log)) {
			msg := log[r.next]
			r.next++
			r.topic.mu.Unlock()
			return msg, nil
		}
		r.topic.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *fakeReader) Close() error { return nil }

// failingProcessor fails the listed order ids once each, then delegates.
type failingProcessor struct {
	inner *processing.Processor
	mu    sync.Mutex
	fail  map[string]bool
}

func (p *failingProcessor) Process(ctx context.Context, orderID string) (processing.Outcome, error) {
	p.mu.Lock()
	shouldFail := p.fail[orderID]
	delete(p.fail, orderID)
	p.mu.Unlock()
	if shouldFail {
		return processing.OutcomeSkipped, apperr.Transient(errors.New("store timeout"))
	}
	return p.inner.Process(ctx, orderID)
}

type harness struct {
	store       *orders.MemoryStore
	checkpoints *checkpoint.MemoryStore
	topic       *fakeTopic
	processor   *failingProcessor
}

func newHarness(t *testing.T, partitions int) *harness {
	t.Helper()
	store := orders.NewMemoryStore()
	policy := retry.New(retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond}, zerolog.Nop())
	return &harness{
		store:       store,
		checkpoints: checkpoint.NewMemoryStore(time.Minute),
		topic:       newFakeTopic(partitions),
		processor: &failingProcessor{
			inner: processing.NewProcessor(store, policy, nil, metrics.SourceStream, zerolog.Nop()),
			fail:  map[string]bool{},
		},
	}
}

func (h *harness) consumer(owner string) *Consumer {
	cfg := Config{
		Topic:          "orders.created",
		Group:          "orderflow",
		OwnerID:        owner,
		IdleRenew:      20 * time.Millisecond,
		RestartBackoff: 5 * time.Millisecond,
	}
	return New(cfg, h.checkpoints, h.processor, nil, zerolog.Nop(),
		WithReaderFactory(h.topic.open),
		WithPartitions(h.topic.list),
	)
}

func (h *harness) seedOrder(t *testing.T, n int) string {
	t.Helper()
	id := fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
	o, err := orders.NewOrder(id, orders.CreateInput{
		CustomerName: "Ada",
		Items: []orders.ItemInput{
			{ProductID: "p", ProductName: "Widget", Quantity: 1, UnitPrice: orders.MoneyFromFloat(1.25)},
		},
	}, time.Now())
	require.NoError(t, err)
	_, err = h.store.Create(context.Background(), o)
	require.NoError(t, err)
	return id
}

func envelopeFor(t *testing.T, id string) notification.Envelope {
	t.Helper()
	env, err := notification.NewOrderCreated(&orders.Order{ID: id}).Wrap(time.Now())
	require.NoError(t, err)
	return env
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func (h *harness) committed(segment string) int64 {
	rec, _ := h.checkpoints.Get(context.Background(), segment)
	if rec == nil || rec.Offset == nil {
		return -1
	}
	return *rec.Offset
}

func (h *harness) status(id string) orders.Status {
	o, _ := h.store.Get(context.Background(), id)
	if o == nil {
		return ""
	}
	return o.Status
}

func runUntil(t *testing.T, c *Consumer, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

const seg0 = "orderflow/orders.created/0"

func TestConsumerProcessesAndCommits(t *testing.T) {
	h := newHarness(t, 1)
	a, b := h.seedOrder(t, 1), h.seedOrder(t, 2)
	h.topic.append(0, encode(t, envelopeFor(t, a)))
	h.topic.append(0, encode(t, []notification.Envelope{envelopeFor(t, b)}))

	runUntil(t, h.consumer("c1"), func() bool { return h.committed(seg0) == 1 })

	require.Equal(t, orders.StatusProcessed, h.status(a))
	require.Equal(t, orders.StatusProcessed, h.status(b))
	rec, _ := h.checkpoints.Get(context.Background(), seg0)
	require.Empty(t, rec.Owner, "ownership released on shutdown")
}

func TestConsumerRedeliversFromCheckpointAfterFailure(t *testing.T) {
	h := newHarness(t, 1)
	a, b, c := h.seedOrder(t, 1), h.seedOrder(t, 2), h.seedOrder(t, 3)
	h.topic.append(0, encode(t, envelopeFor(t, a)))
	// b fails once; the batch holding it must be redelivered in full
	h.topic.append(0, encode(t, []notification.Envelope{envelopeFor(t, c), envelopeFor(t, b)}))
	h.processor.fail[b] = true

	runUntil(t, h.consumer("c1"), func() bool { return h.committed(seg0) == 1 })

	for _, id := range []string{a, b, c} {
		require.Equal(t, orders.StatusProcessed, h.status(id))
	}
	opened := h.topic.openedAt(0)
	require.GreaterOrEqual(t, len(opened), 2)
	require.Equal(t, kafka.FirstOffset, opened[0])
	require.Equal(t, int64(1), opened[1], "reopened right after the last checkpoint")
}

func TestConsumerResumesAfterRestart(t *testing.T) {
	h := newHarness(t, 1)
	a, b := h.seedOrder(t, 1), h.seedOrder(t, 2)
	h.topic.append(0, encode(t, envelopeFor(t, a)))
	runUntil(t, h.consumer("c1"), func() bool { return h.committed(seg0) == 0 })

	// redelivery of an already processed event is a no-op
	h.topic.append(0, encode(t, envelopeFor(t, a)))
	h.topic.append(0, encode(t, envelopeFor(t, b)))
	first, _ := h.store.Get(context.Background(), a)

	runUntil(t, h.consumer("c2"), func() bool { return h.committed(seg0) == 2 })

	require.Equal(t, []int64{kafka.FirstOffset, 1}, h.topic.openedAt(0))
	again, _ := h.store.Get(context.Background(), a)
	require.Equal(t, *first.ProcessedAt, *again.ProcessedAt)
	require.Equal(t, orders.StatusProcessed, h.status(b))
}

func TestConsumerSkipsMalformedAndUnknownEvents(t *testing.T) {
	h := newHarness(t, 1)
	a := h.seedOrder(t, 1)
	other := envelopeFor(t, a)
	other.EventType = notification.TypeOrderShipped

	h.topic.append(0, []byte("not json"))
	h.topic.append(0, encode(t, other))
	h.topic.append(0, encode(t, envelopeFor(t, a)))

	runUntil(t, h.consumer("c1"), func() bool { return h.committed(seg0) == 2 })
	require.Equal(t, orders.StatusProcessed, h.status(a))
}

func TestConsumerSegmentFailureDoesNotStopOthers(t *testing.T) {
	h := newHarness(t, 2)
	a, b := h.seedOrder(t, 1), h.seedOrder(t, 2)
	h.topic.openErrs[1] = 3
	h.topic.append(0, encode(t, envelopeFor(t, a)))
	h.topic.append(1, encode(t, envelopeFor(t, b)))

	runUntil(t, h.consumer("c1"), func() bool {
		return h.committed(seg0) == 0 && h.committed("orderflow/orders.created/1") == 0
	})
	require.Equal(t, orders.StatusProcessed, h.status(a))
	require.Equal(t, orders.StatusProcessed, h.status(b))
}

func TestConsumerWaitsForForeignOwner(t *testing.T) {
	h := newHarness(t, 1)
	a := h.seedOrder(t, 1)
	h.topic.append(0, encode(t, envelopeFor(t, a)))
	_, err := h.checkpoints.Claim(context.Background(), seg0, "someone-else")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, h.consumer("c1").Run(ctx))
	require.Equal(t, orders.StatusCreated, h.status(a))
	require.Empty(t, h.topic.openedAt(0))
}
