package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/internal/store"
	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seeded(t *testing.T, stock int) (*Store, uuid.UUID) {
	t.Helper()
	s := New().WithClock(func() time.Time { return t0 })
	id := uuid.New()
	s.AddProduct(domain.Product{ID: id, Name: "Widget", Price: decimal.NewFromInt(10), StockQuantity: stock})
	return s, id
}

func stockOf(t *testing.T, s *Store, id uuid.UUID) int {
	t.Helper()
	p, ok := s.Product(id)
	require.True(t, ok)
	return p.StockQuantity
}

func TestReserveAndRelease(t *testing.T) {
	s, id := seeded(t, 5)
	ctx := context.Background()

	err := s.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Ledger().Reserve(ctx, id, 3)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stockOf(t, s, id))

	err = s.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Ledger().Release(ctx, id, 3)
	})
	require.NoError(t, err)
	assert.Equal(t, 5, stockOf(t, s, id))
}

func TestReserveInsufficient(t *testing.T) {
	s, id := seeded(t, 5)
	err := s.Do(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Ledger().Reserve(ctx, id, 10)
	})

	var ise *domain.InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, 5, ise.Available)
	assert.Equal(t, 10, ise.Requested)
	assert.Equal(t, "Widget", ise.ProductName)
	assert.Equal(t, 5, stockOf(t, s, id))
}

func TestReserveUnknownProductAndBadQuantity(t *testing.T) {
	s, id := seeded(t, 5)
	err := s.Do(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Ledger().Reserve(ctx, uuid.New(), 1)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.Do(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Ledger().Reserve(ctx, id, 0)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestDoRollsBackEverything(t *testing.T) {
	s, id := seeded(t, 5)
	boom := errors.New("boom")

	err := s.Do(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Ledger().Reserve(ctx, id, 2))
		require.NoError(t, tx.Outbox().Append(ctx, outbox.Message{EventID: "e1", Key: "k"}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 5, stockOf(t, s, id))
	assert.Empty(t, s.OutboxRecords())
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	s, id := seeded(t, 10)
	var ok, rejected atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Do(context.Background(), func(ctx context.Context, tx store.Tx) error {
				return tx.Ledger().Reserve(ctx, id, 3)
			})
			if err == nil {
				ok.Add(1)
			} else if errors.Is(err, domain.ErrInsufficientStock) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int32(22), rejected.Load())
	assert.Equal(t, 1, stockOf(t, s, id))
}

func newOrder(t *testing.T, number, key string, created time.Time) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(domain.NewOrderParams{
		OrderNumber: number, UserID: uuid.New(), IdempotencyKey: key, Now: created,
	})
	require.NoError(t, err)
	require.NoError(t, o.AddLine(domain.OrderLine{ProductID: uuid.New(), Quantity: 1, UnitPrice: decimal.NewFromInt(10)}))
	return o
}

func insert(t *testing.T, s *Store, o *domain.Order) error {
	t.Helper()
	return s.Do(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Orders().Insert(ctx, o)
	})
}

func TestOrderUniqueKeys(t *testing.T) {
	s := New()
	require.NoError(t, insert(t, s, newOrder(t, "ORD-1", "k1", t0)))
	assert.ErrorIs(t, insert(t, s, newOrder(t, "ORD-1", "", t0)), store.ErrDuplicateOrderNumber)
	assert.ErrorIs(t, insert(t, s, newOrder(t, "ORD-2", "k1", t0)), store.ErrDuplicateIdempotencyKey)
	require.NoError(t, insert(t, s, newOrder(t, "ORD-3", "", t0)))
	require.NoError(t, insert(t, s, newOrder(t, "ORD-4", "", t0)))

	got, err := s.GetOrderByNumber(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "k1", got.IdempotencyKey)

	_, err = s.GetOrder(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSumTotalsAndCount(t *testing.T) {
	s := New()
	ctx := context.Background()

	confirmed := newOrder(t, "ORD-1", "", t0)
	_, err := confirmed.Transition(domain.StrictPolicy, domain.OrderStatusConfirmed, t0)
	require.NoError(t, err)
	cancelled := newOrder(t, "ORD-2", "", t0)
	_, err = cancelled.Transition(domain.StrictPolicy, domain.OrderStatusCancelled, t0)
	require.NoError(t, err)
	later := newOrder(t, "ORD-3", "", t0.Add(48*time.Hour))
	_, err = later.Transition(domain.StrictPolicy, domain.OrderStatusConfirmed, t0)
	require.NoError(t, err)

	for _, o := range []*domain.Order{confirmed, cancelled, later} {
		require.NoError(t, insert(t, s, o))
	}

	sum, err := s.SumTotals(ctx, domain.RevenueStatuses, nil, nil)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(sum), sum.String())

	to := t0.Add(time.Hour)
	sum, err = s.SumTotals(ctx, domain.RevenueStatuses, &t0, &to)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(sum), sum.String())

	from, end := t0.Add(-time.Hour), t0.Add(48*time.Hour)
	sum, err = s.SumTotals(ctx, domain.RevenueStatuses, &from, &t0)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(sum), "end bound is inclusive: %s", sum)
	sum, err = s.SumTotals(ctx, domain.RevenueStatuses, &t0, &end)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(sum), sum.String())

	sum, err = s.SumTotals(ctx, []domain.OrderStatus{domain.OrderStatusRefunded}, nil, nil)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())

	n, err := s.CountByStatus(ctx, domain.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOutboxStore(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Outbox().Append(ctx,
			outbox.Message{EventID: "e1", Topic: "a", Key: "k"},
			outbox.Message{EventID: "e2", Topic: "b", Key: "k"},
		)
	})
	require.NoError(t, err)

	recs, err := s.FetchPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "e1", recs[0].EventID)

	require.NoError(t, s.MarkFailed(ctx, recs[0].ID, errors.New("down")))
	require.NoError(t, s.MarkSent(ctx, recs[0].ID))

	recs, err = s.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "e2", recs[0].EventID)

	all := s.OutboxRecords()
	assert.Equal(t, 1, all[0].Attempts)
	assert.Equal(t, "down", all[0].LastError)
	assert.ErrorIs(t, s.MarkSent(ctx, 99), domain.ErrNotFound)
}
