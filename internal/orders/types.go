package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
)

// Status is the closed set of order lifecycle states. Only Created -> Processed
// is driven by the pipeline; the rest are operator actions.
type Status string

// Order statuses
const (
	StatusCreated    Status = "Created"
	StatusProcessing Status = "Processing"
	StatusProcessed  Status = "Processed"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusProcessing, StatusProcessed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// ParseStatus rejects anything outside the closed set.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", apperr.Invalidf("unknown order status %q", raw)
	}
	return s, nil
}

// UnmarshalText keeps invalid statuses out of decoded requests and payloads.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Money is an exact decimal amount. It is stored as a DynamoDB number and
// rendered as a JSON number.
type Money struct {
	decimal.Decimal
}

func NewMoney(d decimal.Decimal) Money { return Money{Decimal: d} }

// MoneyFromFloat converts a request price; decimal picks the shortest
// representation so 9.99 stays 9.99.
func MoneyFromFloat(f float64) Money { return Money{Decimal: decimal.NewFromFloat(f)} }

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	return m.Decimal.UnmarshalJSON(b)
}

func (m Money) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: m.Decimal.String()}, nil
}

func (m *Money) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		m.Decimal = decimal.Zero
		return nil
	default:
		return fmt.Errorf("unsupported attribute type %T for money", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parse money %q: %w", raw, err)
	}
	m.Decimal = d
	return nil
}

// Item is one order line. Immutable after creation.
type Item struct {
	ProductID   string `dynamodbav:"product_id" json:"productId"`
	ProductName string `dynamodbav:"product_name" json:"productName"`
	Quantity    int    `dynamodbav:"quantity" json:"quantity"`
	UnitPrice   Money  `dynamodbav:"unit_price" json:"unitPrice"`
}

func (i Item) Subtotal() Money {
	return NewMoney(i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))))
}

// Order represents the item stored in the orders table.
type Order struct {
	ID              string     `dynamodbav:"order_id" json:"id"` // PK
	CustomerName    string     `dynamodbav:"customer_name" json:"customerName"`
	CustomerEmail   string     `dynamodbav:"customer_email" json:"customerEmail"`
	ShippingAddress string     `dynamodbav:"shipping_address" json:"shippingAddress"`
	Items           []Item     `dynamodbav:"items" json:"items"`
	TotalAmount     Money      `dynamodbav:"total_amount" json:"totalAmount"`
	Status          Status     `dynamodbav:"status" json:"status"`
	CreatedAt       time.Time  `dynamodbav:"created_at" json:"createdAt"`
	ProcessedAt     *time.Time `dynamodbav:"processed_at,omitempty" json:"processedAt,omitempty"`
}

// clone returns a deep copy so stores never hand out shared state.
func (o *Order) clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	if o.ProcessedAt != nil {
		t := *o.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

// String is used in log lines.
func (o *Order) String() string {
	b, _ := json.Marshal(struct {
		ID     string `json:"id"`
		Status Status `json:"status"`
		Total  Money  `json:"total"`
	}{o.ID, o.Status, o.TotalAmount})
	return string(b)
}

// ItemInput is a caller-supplied line item.
type ItemInput struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   Money
}

// CreateInput is the validated request handed over by the API boundary.
type CreateInput struct {
	CustomerName    string
	CustomerEmail   string
	ShippingAddress string
	Items           []ItemInput
}

// NewOrder builds a Created order. TotalAmount is always derived from the
// items; callers cannot supply it.
func NewOrder(id string, in CreateInput, now time.Time) (*Order, error) {
	if id == "" {
		return nil, apperr.Invalidf("order id is required")
	}
	if len(in.Items) == 0 {
		return nil, apperr.Invalidf("order must contain at least one item")
	}

	items := make([]Item, 0, len(in.Items))
	total := decimal.Zero
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, apperr.Invalidf("item %s must have a quantity greater than 0", it.ProductName)
		}
		if !it.UnitPrice.IsPositive() {
			return nil, apperr.Invalidf("item %s must have a unit price greater than 0", it.ProductName)
		}
		item := Item{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		}
		total = total.Add(item.Subtotal().Decimal)
		items = append(items, item)
	}

	return &Order{
		ID:              id,
		CustomerName:    in.CustomerName,
		CustomerEmail:   in.CustomerEmail,
		ShippingAddress: in.ShippingAddress,
		Items:           items,
		TotalAmount:     NewMoney(total),
		Status:          StatusCreated,
		CreatedAt:       now.UTC(),
	}, nil
}
