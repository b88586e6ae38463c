package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/orders"
)

// New returns a configured validator with the custom rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// order_status accepts only the closed set of order statuses
	_ = v.RegisterValidation("order_status", func(fl validatorv10.FieldLevel) bool {
		return orders.Status(fl.Field().String()).Valid()
	})
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation rejects duplicate product lines; quantities for
// the same product belong on one line.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	seen := make(map[string]struct{}, len(req.Items))
	for i, it := range req.Items {
		if _, dup := seen[it.ProductID]; dup {
			sl.ReportError(it.ProductID, fmt.Sprintf("items[%d].productId", i), "ProductID", "unique_product", it.ProductID)
			continue
		}
		seen[it.ProductID] = struct{}{}
	}
}

// ToCreateInput converts a validated request into the order model's input.
func (r CreateOrderRequest) ToCreateInput() orders.CreateInput {
	items := make([]orders.ItemInput, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, orders.ItemInput{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   orders.MoneyFromFloat(it.UnitPrice),
		})
	}
	return orders.CreateInput{
		CustomerName:    r.CustomerName,
		CustomerEmail:   r.CustomerEmail,
		ShippingAddress: r.ShippingAddress,
		Items:           items,
	}
}
