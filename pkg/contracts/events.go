package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event is the envelope published for every order state change. Consumers
// dedupe on EventID; Payload is decoded according to Type.
type Event struct {
	EventID     string          `json:"event_id"`
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Type        string          `json:"event_type"`
	Timestamp   time.Time       `json:"timestamp"`
	Source      string          `json:"source"`
	Payload     json.RawMessage `json:"payload"`
}

const (
	EventOrderCreated       = "ORDER_CREATED"
	EventOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventOrderCancelled     = "ORDER_CANCELLED"
)

const SourceOrderService = "order-service"

type OrderItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type OrderCreated struct {
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          string          `json:"status"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress string          `json:"shipping_address,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

type OrderStatusChanged struct {
	PreviousStatus string          `json:"previous_status"`
	NewStatus      string          `json:"new_status"`
	Reason         string          `json:"reason,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

type OrderCancelled struct {
	PreviousStatus string          `json:"previous_status"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	Reason         string          `json:"reason"`
	StockRestored  bool            `json:"stock_restored"`
}

func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Source: SourceOrderService, Payload: data}, nil
}

func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

func Parse(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.EventID == "" || e.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing event_id or event_type")
	}
	return e, nil
}
