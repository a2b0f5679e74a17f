// Package store declares the persistence collaborators of the fulfillment
// core: repositories bound to one transaction and the unit of work that
// scopes them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/order-fulfillment/internal/inventory"
	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

var (
	ErrDuplicateOrderNumber    = errors.New("duplicate order number")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

type Users interface {
	Get(ctx context.Context, id uuid.UUID) (domain.User, error)
}

type Products interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Product, error)
}

// Orders persists the order aggregate together with its lines.
type Orders interface {
	// Insert fails with ErrDuplicateOrderNumber or ErrDuplicateIdempotencyKey
	// on unique key conflicts.
	Insert(ctx context.Context, o *domain.Order) error
	Update(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// GetForUpdate locks the order row until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
}

type Outbox interface {
	Append(ctx context.Context, msgs ...outbox.Message) error
}

// Tx grants access to every collaborator inside one transaction.
type Tx interface {
	Users() Users
	Products() Products
	Orders() Orders
	Ledger() inventory.Ledger
	Outbox() Outbox
}

// UnitOfWork runs fn in one transaction, committing when fn returns nil and
// rolling back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Queries are read-only lookups outside a unit of work.
type Queries interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error)
	// SumTotals sums order totals with status in statuses and created_at in
	// [from, to], both ends inclusive. Nil bounds are open. An empty set sums to zero.
	SumTotals(ctx context.Context, statuses []domain.OrderStatus, from, to *time.Time) (decimal.Decimal, error)
	CountByStatus(ctx context.Context, status domain.OrderStatus) (int64, error)
}
