// Package analytics keeps a per-order projection of the published order
// events. Every event is recorded in an inbox keyed by event id so redelivered
// messages are applied once.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/pkg/contracts"
)

// Fact is the latest known state of one order.
type Fact struct {
	OrderID      uuid.UUID
	OrderNumber  string
	UserID       uuid.UUID
	Status       string
	TotalAmount  decimal.Decimal
	RefundAmount decimal.Decimal
	ItemCount    int
	Events       int
	CreatedAt    time.Time
	LastEventAt  time.Time
}

type Tx interface {
	// MarkSeen records the event id and reports false if it was already there.
	MarkSeen(ctx context.Context, eventID, eventType string) (bool, error)
	GetFact(ctx context.Context, orderID uuid.UUID) (Fact, bool, error)
	PutFact(ctx context.Context, f Fact) error
}

type Store interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Apply folds evt into f. found tells whether f was loaded from storage.
// Events older than the last applied one still count but never move the
// status backwards. ORDER_CREATED always fills in the creation data, so it
// may arrive after a later status change.
func Apply(f Fact, found bool, evt contracts.Event) (Fact, error) {
	orderID, err := uuid.Parse(evt.OrderID)
	if err != nil {
		return f, fmt.Errorf("order_id %q: %w", evt.OrderID, err)
	}
	if !found {
		f = Fact{OrderID: orderID, CreatedAt: evt.Timestamp}
	}
	if f.OrderNumber == "" {
		f.OrderNumber = evt.OrderNumber
	}
	if f.UserID == uuid.Nil {
		if uid, err := uuid.Parse(evt.UserID); err == nil {
			f.UserID = uid
		}
	}

	stale := found && evt.Timestamp.Before(f.LastEventAt)
	f.Events++

	switch evt.Type {
	case contracts.EventOrderCreated:
		var p contracts.OrderCreated
		if err := evt.Decode(&p); err != nil {
			return f, err
		}
		f.TotalAmount = p.TotalAmount
		f.CreatedAt = evt.Timestamp
		f.ItemCount = 0
		for _, it := range p.Items {
			f.ItemCount += it.Quantity
		}
		if !stale {
			f.Status = p.Status
		}
	case contracts.EventOrderStatusChanged:
		var p contracts.OrderStatusChanged
		if err := evt.Decode(&p); err != nil {
			return f, err
		}
		if !stale {
			f.Status = p.NewStatus
			f.TotalAmount = p.TotalAmount
		}
	case contracts.EventOrderCancelled:
		var p contracts.OrderCancelled
		if err := evt.Decode(&p); err != nil {
			return f, err
		}
		if !stale {
			f.Status = string(domain.OrderStatusCancelled)
			f.RefundAmount = p.RefundAmount
		}
	default:
		return f, fmt.Errorf("unknown event type %q", evt.Type)
	}

	if !stale {
		f.LastEventAt = evt.Timestamp
	}
	return f, nil
}
