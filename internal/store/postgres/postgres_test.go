package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/internal/store"
)

// openStore connects to DATABASE_URL and applies the schema. Tests that need
// a live database are skipped without it.
func openStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping postgres test")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool)
	require.NoError(t, s.Migrate(ctx))
	return s
}

type seed struct {
	user    uuid.UUID
	product uuid.UUID
	orders  []uuid.UUID
}

func seedCatalog(t *testing.T, s *Store, stock int) *seed {
	t.Helper()
	ctx := context.Background()
	sd := &seed{user: uuid.New(), product: uuid.New()}
	require.NoError(t, s.UpsertUser(ctx, domain.User{ID: sd.user, Email: sd.user.String() + "@test.local", Name: "test"}))
	require.NoError(t, s.UpsertProduct(ctx, domain.Product{
		ID: sd.product, Name: "Widget", Price: decimal.RequireFromString("10.00"), StockQuantity: stock,
	}))
	t.Cleanup(func() {
		ctx := context.Background()
		for _, id := range sd.orders {
			_, _ = s.pool.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
		}
		_, _ = s.pool.Exec(ctx, `DELETE FROM products WHERE id=$1`, sd.product)
		_, _ = s.pool.Exec(ctx, `DELETE FROM users WHERE id=$1`, sd.user)
	})
	return sd
}

func (sd *seed) order(t *testing.T, number, key string, created time.Time) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(domain.NewOrderParams{
		OrderNumber:    number,
		UserID:         sd.user,
		TaxAmount:      decimal.RequireFromString("1.25"),
		ShippingAmount: decimal.RequireFromString("4.00"),
		IdempotencyKey: key,
		Now:            created,
	})
	require.NoError(t, err)
	require.NoError(t, o.AddLine(domain.OrderLine{
		ProductID: sd.product, ProductName: "Widget", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00"),
	}))
	sd.orders = append(sd.orders, o.ID)
	return o
}

func stockOf(t *testing.T, s *Store, id uuid.UUID) int {
	t.Helper()
	p, err := s.Product(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func TestReserveConditionalDecrement(t *testing.T) {
	s := openStore(t)
	sd := seedCatalog(t, s, 5)
	ctx := context.Background()

	err := s.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Ledger().Reserve(ctx, sd.product, 3)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stockOf(t, s, sd.product))

	err = s.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Ledger().Reserve(ctx, sd.product, 3)
	})
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 2, stockOf(t, s, sd.product))

	err = s.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Ledger().Reserve(ctx, uuid.New(), 1)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Ledger().Release(ctx, uuid.New(), 1)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentReserveTwoByThreeOfFive(t *testing.T) {
	s := openStore(t)
	sd := seedCatalog(t, s, 5)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Do(context.Background(), func(ctx context.Context, tx store.Tx) error {
				return tx.Ledger().Reserve(ctx, sd.product, 3)
			})
		}()
	}
	wg.Wait()

	ok, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domain.ErrInsufficientStock):
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 2, stockOf(t, s, sd.product))
}

func TestInsertDuplicateKeys(t *testing.T) {
	s := openStore(t)
	sd := seedCatalog(t, s, 5)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	number := "ORD-T-" + uuid.NewString()
	key := "key-" + uuid.NewString()

	insert := func(o *domain.Order) error {
		return s.Do(ctx, func(ctx context.Context, tx store.Tx) error { return tx.Orders().Insert(ctx, o) })
	}
	require.NoError(t, insert(sd.order(t, number, key, now)))
	assert.ErrorIs(t, insert(sd.order(t, number, "", now)), store.ErrDuplicateOrderNumber)
	assert.ErrorIs(t, insert(sd.order(t, "ORD-T-"+uuid.NewString(), key, now)), store.ErrDuplicateIdempotencyKey)
}

func TestOrderRoundTripKeepsStockRestored(t *testing.T) {
	s := openStore(t)
	sd := seedCatalog(t, s, 5)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	o := sd.order(t, "ORD-T-"+uuid.NewString(), "", now)

	err := s.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Orders().Insert(ctx, o); err != nil {
			return err
		}
		if _, err := o.Transition(domain.StrictPolicy, domain.OrderStatusCancelled, now); err != nil {
			return err
		}
		return tx.Orders().Update(ctx, o)
	})
	require.NoError(t, err)

	back, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, back.Status())
	assert.True(t, back.StockRestored())
	assert.True(t, o.TotalAmount().Equal(back.TotalAmount()))
}

func TestSumTotalsWindowIsInclusive(t *testing.T) {
	s := openStore(t)
	sd := seedCatalog(t, s, 5)
	ctx := context.Background()
	// A fixed instant far from any live data keeps the window private.
	created := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC).Add(time.Duration(time.Now().UnixNano()%1e6) * time.Second)
	o := sd.order(t, "ORD-T-"+uuid.NewString(), "", created)

	err := s.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Orders().Insert(ctx, o); err != nil {
			return err
		}
		if _, err := o.Transition(domain.StrictPolicy, domain.OrderStatusConfirmed, created); err != nil {
			return err
		}
		return tx.Orders().Update(ctx, o)
	})
	require.NoError(t, err)

	sum := func(from, to time.Time) decimal.Decimal {
		t.Helper()
		v, err := s.SumTotals(ctx, domain.RevenueStatuses, &from, &to)
		require.NoError(t, err)
		return v
	}
	assert.True(t, o.TotalAmount().Equal(sum(created, created)))
	assert.True(t, o.TotalAmount().Equal(sum(created.Add(-time.Second), created)))
	assert.True(t, sum(created.Add(time.Second), created.Add(time.Minute)).IsZero())
}
