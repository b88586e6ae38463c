package notification

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/orders"
)

const orderID = "5b0f2a34-6f57-4a43-9a57-2f1b2f0d8c11"

func sampleEnvelope(t *testing.T) Envelope {
	t.Helper()
	o := &orders.Order{
		ID:           orderID,
		CustomerName: "Ada",
		TotalAmount:  orders.NewMoney(decimal.RequireFromString("24.98")),
		Status:       orders.StatusCreated,
		CreatedAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	env, err := NewOrderCreated(o).Wrap(time.Now())
	require.NoError(t, err)
	return env
}

func TestParseSingleAndBatch(t *testing.T) {
	env := sampleEnvelope(t)
	single, err := json.Marshal(env)
	require.NoError(t, err)
	batch, err := json.Marshal([]Envelope{env, env})
	require.NoError(t, err)

	got, err := Parse(append([]byte("  \n"), single...))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, TypeOrderCreated, got[0].EventType)
	require.Equal(t, "orders/"+orderID, got[0].Subject)

	got, err = Parse(batch)
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = Parse([]byte("[]"))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, body := range []string{"", "42", `"text"`, `{"id":`, `[{"id":1}`} {
		_, err := Parse([]byte(body))
		require.True(t, apperr.IsInvalid(err), "body %q: %v", body, err)
	}
}

func TestOrderCreatedObjectPayload(t *testing.T) {
	env := sampleEnvelope(t)
	p, err := env.OrderCreated()
	require.NoError(t, err)
	require.Equal(t, orderID, p.OrderID)
	require.Equal(t, "24.98", p.TotalAmount.String())
}

func TestOrderCreatedStringPayload(t *testing.T) {
	env := sampleEnvelope(t)
	env.Data = json.RawMessage(strconv.Quote(string(env.Data)))

	p, err := env.OrderCreated()
	require.NoError(t, err)
	require.Equal(t, orderID, p.OrderID)
}

func TestOrderCreatedMissingOrderID(t *testing.T) {
	env := Envelope{ID: "e1", EventType: TypeOrderCreated, Data: json.RawMessage(`{"eventId":"x"}`)}
	_, err := env.OrderCreated()
	require.True(t, apperr.IsInvalid(err))

	env.Data = nil
	_, err = env.OrderCreated()
	require.True(t, apperr.IsInvalid(err))
}

func TestParseKeepsBatchWithForeignEventTime(t *testing.T) {
	env := sampleEnvelope(t)
	created, err := json.Marshal(env)
	require.NoError(t, err)
	body := `[{"id":"e-9","eventType":"Inventory.Reserved","subject":"stock/1","eventTime":"Mon, 02 Jan 2006 15:04:05 MST","data":{}},` + string(created) + `]`

	got, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Inventory.Reserved", got[0].EventType)

	payload, err := got[1].OrderCreated()
	require.NoError(t, err)
	require.Equal(t, orderID, payload.OrderID)
}

func TestWrapStampsRFC3339EventTime(t *testing.T) {
	env := sampleEnvelope(t)
	_, err := time.Parse(time.RFC3339Nano, env.EventTime)
	require.NoError(t, err)
}
