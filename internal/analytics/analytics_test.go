package analytics_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nazeru/order-fulfillment/internal/analytics"
	"github.com/nazeru/order-fulfillment/internal/store/memory"
	"github.com/nazeru/order-fulfillment/pkg/contracts"
	"github.com/nazeru/order-fulfillment/pkg/kafka"
	"github.com/nazeru/order-fulfillment/pkg/metrics"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	store   *memory.Analytics
	metrics *metrics.Consumer
	proj    *analytics.Projector
	orderID uuid.UUID
	userID  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		store:   memory.NewAnalytics(),
		metrics: metrics.NewConsumer(prometheus.NewRegistry()),
		orderID: uuid.New(),
		userID:  uuid.New(),
	}
	h.proj = analytics.NewProjector(h.store, zaptest.NewLogger(t), h.metrics)
	return h
}

func (h *harness) event(t *testing.T, typ string, at time.Time, payload any) contracts.Event {
	t.Helper()
	evt, err := contracts.NewEvent(typ, payload)
	require.NoError(t, err)
	evt.EventID = uuid.NewString()
	evt.OrderID = h.orderID.String()
	evt.OrderNumber = "ORD-20240301120000-7"
	evt.UserID = h.userID.String()
	evt.Timestamp = at
	return evt
}

func (h *harness) deliver(t *testing.T, evt contracts.Event) error {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return h.proj.Handle(context.Background(), kafka.Message{Topic: "order-analytics", Value: data})
}

func (h *harness) fact(t *testing.T) analytics.Fact {
	t.Helper()
	f, ok := h.store.Fact(h.orderID)
	require.True(t, ok)
	return f
}

func created(total string) contracts.OrderCreated {
	return contracts.OrderCreated{
		TotalAmount: dec(total),
		Status:      "PENDING",
		Items: []contracts.OrderItem{
			{ProductID: uuid.NewString(), Quantity: 3, UnitPrice: dec("10"), TotalPrice: dec("30")},
			{ProductID: uuid.NewString(), Quantity: 1, UnitPrice: dec("2"), TotalPrice: dec("2")},
		},
	}
}

func TestProjectorFollowsLifecycle(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.deliver(t, h.event(t, contracts.EventOrderCreated, t0, created("39.50"))))
	f := h.fact(t)
	assert.Equal(t, "PENDING", f.Status)
	assert.Equal(t, 4, f.ItemCount)
	assert.Equal(t, h.userID, f.UserID)
	assert.True(t, dec("39.50").Equal(f.TotalAmount))

	require.NoError(t, h.deliver(t, h.event(t, contracts.EventOrderStatusChanged, t0.Add(time.Minute),
		contracts.OrderStatusChanged{PreviousStatus: "PENDING", NewStatus: "CONFIRMED", TotalAmount: dec("39.50")})))
	require.NoError(t, h.deliver(t, h.event(t, contracts.EventOrderCancelled, t0.Add(2*time.Minute),
		contracts.OrderCancelled{PreviousStatus: "CONFIRMED", RefundAmount: dec("39.50"), StockRestored: true})))

	f = h.fact(t)
	assert.Equal(t, "CANCELLED", f.Status)
	assert.True(t, dec("39.50").Equal(f.RefundAmount))
	assert.Equal(t, 3, f.Events)
	assert.Equal(t, t0, f.CreatedAt)
	assert.Equal(t, t0.Add(2*time.Minute), f.LastEventAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Events.WithLabelValues(contracts.EventOrderCancelled, "applied")))
}

func TestProjectorDedupesRedelivery(t *testing.T) {
	h := newHarness(t)
	evt := h.event(t, contracts.EventOrderCreated, t0, created("39.50"))

	require.NoError(t, h.deliver(t, evt))
	require.NoError(t, h.deliver(t, evt))

	assert.Equal(t, 1, h.fact(t).Events)
	assert.Equal(t, 1, h.store.Seen())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Duplicates))
}

func TestProjectorIgnoresStaleStatus(t *testing.T) {
	h := newHarness(t)
	shipped := h.event(t, contracts.EventOrderStatusChanged, t0.Add(time.Hour),
		contracts.OrderStatusChanged{PreviousStatus: "PROCESSING", NewStatus: "SHIPPED", TotalAmount: dec("39.50")})
	confirmed := h.event(t, contracts.EventOrderStatusChanged, t0.Add(time.Minute),
		contracts.OrderStatusChanged{PreviousStatus: "PENDING", NewStatus: "CONFIRMED", TotalAmount: dec("39.50")})

	require.NoError(t, h.deliver(t, shipped))
	require.NoError(t, h.deliver(t, confirmed))
	require.NoError(t, h.deliver(t, h.event(t, contracts.EventOrderCreated, t0, created("39.50"))))

	f := h.fact(t)
	assert.Equal(t, "SHIPPED", f.Status)
	assert.Equal(t, 3, f.Events)
	assert.Equal(t, 4, f.ItemCount)
	assert.Equal(t, t0, f.CreatedAt)
	assert.Equal(t, t0.Add(time.Hour), f.LastEventAt)
}

func TestProjectorDropsBadMessages(t *testing.T) {
	h := newHarness(t)

	err := h.proj.Handle(context.Background(), kafka.Message{Value: []byte("{not json")})
	var perm *backoff.PermanentError
	assert.True(t, errors.As(err, &perm))

	evt := h.event(t, "ORDER_TELEPORTED", t0, map[string]string{})
	err = h.deliver(t, evt)
	assert.True(t, errors.As(err, &perm))
	assert.Equal(t, 0, h.store.Seen())

	evt = h.event(t, contracts.EventOrderCreated, t0, created("1"))
	evt.OrderID = "not-a-uuid"
	err = h.deliver(t, evt)
	assert.True(t, errors.As(err, &perm))
}

func TestSummaryHandlerAggregatesFacts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.deliver(t, h.event(t, contracts.EventOrderCreated, t0, created("39.50"))))
	require.NoError(t, h.deliver(t, h.event(t, contracts.EventOrderCancelled, t0.Add(time.Minute),
		contracts.OrderCancelled{PreviousStatus: "PENDING", RefundAmount: dec("39.50"), StockRestored: true})))

	h.orderID = uuid.New()
	require.NoError(t, h.deliver(t, h.event(t, contracts.EventOrderCreated, t0, created("10.00"))))
	h.orderID = uuid.New()
	require.NoError(t, h.deliver(t, h.event(t, contracts.EventOrderCreated, t0, created("5.25"))))

	rec := httptest.NewRecorder()
	analytics.SummaryHandler(h.store, zaptest.NewLogger(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/orders", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got analytics.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(3), got.Orders)
	assert.True(t, dec("54.75").Equal(got.TotalAmount), got.TotalAmount.String())
	assert.True(t, dec("39.50").Equal(got.RefundAmount), got.RefundAmount.String())
	require.Len(t, got.ByStatus, 2)
	assert.Equal(t, "CANCELLED", got.ByStatus[0].Status)
	assert.Equal(t, int64(1), got.ByStatus[0].Orders)
	assert.Equal(t, "PENDING", got.ByStatus[1].Status)
	assert.Equal(t, int64(2), got.ByStatus[1].Orders)
	assert.True(t, dec("15.25").Equal(got.ByStatus[1].TotalAmount))
}

type failingReader struct{}

func (failingReader) SummaryByStatus(context.Context) ([]analytics.StatusSummary, error) {
	return nil, errors.New("db down")
}

func TestSummaryHandlerHidesErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	analytics.SummaryHandler(failingReader{}, zaptest.NewLogger(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/orders", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}
