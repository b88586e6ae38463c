// Package notification defines the order event envelope carried by the
// stream and queue transports.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/orders"
)

// Event types. Only OrderCreated is consumed by the pipeline; consumers ignore
// the rest.
const (
	TypeOrderCreated   = "Order.Created"
	TypeOrderProcessed = "Order.Processed"
	TypeOrderShipped   = "Order.Shipped"
	TypeOrderDelivered = "Order.Delivered"
	TypeOrderCancelled = "Order.Cancelled"
)

const dataVersion = "1.0"

// Envelope is the transport-level wrapper around an event payload.
type Envelope struct {
	ID          string          `json:"id"`
	EventType   string          `json:"eventType"`
	Subject     string          `json:"subject"`
	// EventTime is kept as sent; producers other than this service do not all
	// use RFC 3339.
	EventTime   string          `json:"eventTime"`
	DataVersion string          `json:"dataVersion,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// OrderCreated is the payload of an Order.Created envelope.
type OrderCreated struct {
	EventID         string       `json:"eventId"`
	EventType       string       `json:"eventType"`
	OrderID         string       `json:"orderId"`
	CustomerName    string       `json:"customerName"`
	CustomerEmail   string       `json:"customerEmail"`
	TotalAmount     orders.Money `json:"totalAmount"`
	CreatedAt       time.Time    `json:"createdAt"`
	ShippingAddress string       `json:"shippingAddress"`
}

// NewOrderCreated builds the payload announcing order.
func NewOrderCreated(order *orders.Order) OrderCreated {
	return OrderCreated{
		EventID:         uuid.NewString(),
		EventType:       TypeOrderCreated,
		OrderID:         order.ID,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		TotalAmount:     order.TotalAmount,
		CreatedAt:       order.CreatedAt,
		ShippingAddress: order.ShippingAddress,
	}
}

// Wrap puts the payload in an envelope addressed to orders/{orderId}.
func (e OrderCreated) Wrap(now time.Time) (Envelope, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal order created payload: %w", err)
	}
	return Envelope{
		ID:          e.EventID,
		EventType:   e.EventType,
		Subject:     "orders/" + e.OrderID,
		EventTime:   now.UTC().Format(time.RFC3339Nano),
		DataVersion: dataVersion,
		Data:        data,
	}, nil
}

// Parse decodes a message body that holds either a single envelope or an
// array of them. An empty array yields no envelopes. Anything else is invalid.
func Parse(body []byte) ([]Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, apperr.Invalidf("empty notification body")
	}
	switch trimmed[0] {
	case '[':
		var batch []Envelope
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, apperr.Invalid(fmt.Errorf("decode notification batch: %w", err))
		}
		return batch, nil
	case '{':
		var single Envelope
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, apperr.Invalid(fmt.Errorf("decode notification: %w", err))
		}
		return []Envelope{single}, nil
	default:
		return nil, apperr.Invalidf("notification body is neither an object nor an array")
	}
}

// OrderCreated decodes the payload. Data may be an object or a JSON string
// that itself holds the object.
func (e Envelope) OrderCreated() (OrderCreated, error) {
	var out OrderCreated
	raw := bytes.TrimSpace(e.Data)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return out, apperr.Invalid(fmt.Errorf("decode string payload: %w", err))
		}
		raw = []byte(inner)
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, apperr.Invalidf("event %s has no payload", e.ID)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apperr.Invalid(fmt.Errorf("decode order created payload: %w", err))
	}
	if out.OrderID == "" {
		return out, apperr.Invalidf("event %s payload has no order id", e.ID)
	}
	return out, nil
}
