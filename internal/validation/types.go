package validation

// Item represents a single order line item.
type Item struct {
	ProductID   string  `json:"productId" validate:"required"`
	ProductName string  `json:"productName" validate:"required"`
	Quantity    int     `json:"quantity" validate:"required,min=1"` // must be >= 1
	UnitPrice   float64 `json:"unitPrice" validate:"required,gt=0"` // price per unit
}

// CreateOrderRequest is the payload for POST /orders. There is no total: the
// server derives it from the items.
type CreateOrderRequest struct {
	CustomerName    string `json:"customerName" validate:"required,max=200"`
	CustomerEmail   string `json:"customerEmail" validate:"required,email"`
	ShippingAddress string `json:"shippingAddress" validate:"required,max=500"`
	Items           []Item `json:"items" validate:"required,min=1,dive"` // at least one item
}

// UpdateStatusRequest is the payload for PUT /orders/:id/status.
// ExpectedStatus turns the update into a compare-and-swap.
type UpdateStatusRequest struct {
	Status         string `json:"status" validate:"required,order_status"`
	ExpectedStatus string `json:"expectedStatus,omitempty" validate:"omitempty,order_status"`
}
