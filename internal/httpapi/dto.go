package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
)

type itemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	UserID          string          `json:"user_id"`
	Items           []itemRequest   `json:"items"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	ShippingAmount  decimal.Decimal `json:"shipping_amount"`
	ShippingAddress domain.Address  `json:"shipping_address"`
	Notes           string          `json:"notes"`
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type itemResponse struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type orderResponse struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	UserID          string          `json:"user_id"`
	Status          string          `json:"status"`
	Items           []itemResponse  `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	ShippingAmount  decimal.Decimal `json:"shipping_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	TotalItems      int             `json:"total_items"`
	ShippingAddress *domain.Address `json:"shipping_address,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ShippedAt       *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
}

func toResponse(o *domain.Order) orderResponse {
	lines := o.Lines()
	items := make([]itemResponse, 0, len(lines))
	for _, l := range lines {
		items = append(items, itemResponse{
			ProductID:   l.ProductID.String(),
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  l.Total(),
		})
	}
	resp := orderResponse{
		ID:             o.ID.String(),
		OrderNumber:    o.OrderNumber,
		UserID:         o.UserID.String(),
		Status:         string(o.Status()),
		Items:          items,
		Subtotal:       o.Subtotal(),
		TaxAmount:      o.TaxAmount(),
		ShippingAmount: o.ShippingAmount(),
		TotalAmount:    o.TotalAmount(),
		TotalItems:     o.TotalItems(),
		Notes:          o.Notes,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		ShippedAt:      o.ShippedAt(),
		DeliveredAt:    o.DeliveredAt(),
	}
	if !o.ShippingAddress.IsZero() {
		addr := o.ShippingAddress
		resp.ShippingAddress = &addr
	}
	return resp
}

type errorResponse struct {
	Error     string `json:"error"`
	ProductID string `json:"product_id,omitempty"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
}
