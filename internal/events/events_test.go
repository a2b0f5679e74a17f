package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/pkg/contracts"
	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

type recorder struct {
	msgs []outbox.Message
	err  error
}

func (r *recorder) Append(_ context.Context, msgs ...outbox.Message) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msgs...)
	return nil
}

type kick struct{ n int }

func (k *kick) Kick() { k.n++ }

func testOrder(t *testing.T) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(domain.NewOrderParams{
		OrderNumber:    "ORD-20240301120000-7",
		UserID:         uuid.New(),
		ShippingAmount: decimal.NewFromInt(3),
		Now:            time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, o.AddLine(domain.OrderLine{ProductID: uuid.New(), ProductName: "Widget", Quantity: 2, UnitPrice: decimal.NewFromInt(10)}))
	return o
}

func TestStageFansOutPerTopic(t *testing.T) {
	o := testOrder(t)
	evt, err := OrderCreated(o, time.Now())
	require.NoError(t, err)

	k := &kick{}
	p := NewPublisher([]string{"a", "b"}, k)
	rec := &recorder{}
	require.NoError(t, p.Stage(context.Background(), rec, evt))
	assert.Zero(t, k.n)
	p.Committed()
	assert.Equal(t, 1, k.n)

	require.Len(t, rec.msgs, 2)
	for i, topic := range []string{"a", "b"} {
		m := rec.msgs[i]
		assert.Equal(t, topic, m.Topic)
		assert.Equal(t, o.ID.String(), m.Key)
		assert.Equal(t, evt.EventID, m.EventID)
		assert.Equal(t, contracts.EventOrderCreated, m.EventType)

		back, err := contracts.Parse(m.Payload)
		require.NoError(t, err)
		assert.Equal(t, evt.OrderNumber, back.OrderNumber)
	}
}

func TestStageSurfacesOutboxError(t *testing.T) {
	evt, err := OrderStatusChanged(testOrder(t), domain.OrderStatusPending, "", time.Now())
	require.NoError(t, err)
	boom := errors.New("boom")
	err = NewPublisher([]string{"a"}, nil).Stage(context.Background(), &recorder{err: boom}, evt)
	assert.ErrorIs(t, err, boom)
}

func TestOrderCancelledCarriesRefund(t *testing.T) {
	o := testOrder(t)
	_, err := o.Transition(domain.StrictPolicy, domain.OrderStatusCancelled, time.Now())
	require.NoError(t, err)

	evt, err := OrderCancelled(o, domain.OrderStatusPending, "changed mind", true, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, contracts.SourceOrderService, evt.Source)

	var p contracts.OrderCancelled
	require.NoError(t, evt.Decode(&p))
	assert.True(t, decimal.NewFromInt(23).Equal(p.RefundAmount), p.RefundAmount.String())
	assert.Equal(t, "PENDING", p.PreviousStatus)
	assert.Equal(t, "changed mind", p.Reason)
	assert.True(t, p.StockRestored)
}

func TestEventIDsAreUnique(t *testing.T) {
	o := testOrder(t)
	a, err := OrderStatusChanged(o, domain.OrderStatusPending, "", time.Now())
	require.NoError(t, err)
	b, err := OrderStatusChanged(o, domain.OrderStatusPending, "", time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, a.EventID, b.EventID)
}
