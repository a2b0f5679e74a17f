// Package events builds order events and stages them in the outbox of the
// unit of work that produced them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/internal/store"
	"github.com/nazeru/order-fulfillment/pkg/contracts"
	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

func envelope(o *domain.Order, eventType string, payload any, now time.Time) (contracts.Event, error) {
	evt, err := contracts.NewEvent(eventType, payload)
	if err != nil {
		return contracts.Event{}, err
	}
	evt.EventID = uuid.NewString()
	evt.OrderID = o.ID.String()
	evt.OrderNumber = o.OrderNumber
	evt.UserID = o.UserID.String()
	evt.Timestamp = now.UTC()
	return evt, nil
}

func OrderCreated(o *domain.Order, now time.Time) (contracts.Event, error) {
	lines := o.Lines()
	items := make([]contracts.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, contracts.OrderItem{
			ProductID:   l.ProductID.String(),
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  l.Total(),
		})
	}
	return envelope(o, contracts.EventOrderCreated, contracts.OrderCreated{
		TotalAmount:     o.TotalAmount(),
		Status:          string(o.Status()),
		Items:           items,
		ShippingAddress: o.ShippingAddress.String(),
		Notes:           o.Notes,
	}, now)
}

func OrderStatusChanged(o *domain.Order, previous domain.OrderStatus, reason string, now time.Time) (contracts.Event, error) {
	return envelope(o, contracts.EventOrderStatusChanged, contracts.OrderStatusChanged{
		PreviousStatus: string(previous),
		NewStatus:      string(o.Status()),
		Reason:         reason,
		TotalAmount:    o.TotalAmount(),
	}, now)
}

// OrderCancelled reports the full order total as the refund amount.
func OrderCancelled(o *domain.Order, previous domain.OrderStatus, reason string, stockRestored bool, now time.Time) (contracts.Event, error) {
	return envelope(o, contracts.EventOrderCancelled, contracts.OrderCancelled{
		PreviousStatus: string(previous),
		RefundAmount:   o.TotalAmount(),
		Reason:         reason,
		StockRestored:  stockRestored,
	}, now)
}

// Notifier is woken after a unit of work with staged events commits.
type Notifier interface {
	Kick()
}

// Publisher fans every event out to all configured topics through the
// outbox. Nothing reaches the bus unless the surrounding transaction commits.
type Publisher struct {
	topics   []string
	notifier Notifier
}

func NewPublisher(topics []string, n Notifier) *Publisher {
	return &Publisher{topics: append([]string(nil), topics...), notifier: n}
}

func (p *Publisher) Stage(ctx context.Context, out store.Outbox, evt contracts.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.Type, err)
	}
	msgs := make([]outbox.Message, 0, len(p.topics))
	for _, topic := range p.topics {
		msgs = append(msgs, outbox.Message{
			EventID:   evt.EventID,
			EventType: evt.Type,
			Topic:     topic,
			Key:       evt.OrderID,
			Payload:   data,
		})
	}
	if err := out.Append(ctx, msgs...); err != nil {
		return fmt.Errorf("stage %s for order %s: %w", evt.Type, evt.OrderID, err)
	}
	return nil
}

// Committed must be called only after the transaction that staged events
// committed.
func (p *Publisher) Committed() {
	if p.notifier != nil {
		p.notifier.Kick()
	}
}
