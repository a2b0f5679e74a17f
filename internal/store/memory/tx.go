package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/order-fulfillment/internal/inventory"
	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/internal/store"
	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

type tx struct {
	st  *state
	now time.Time
}

func (t *tx) Users() store.Users       { return users{t} }
func (t *tx) Products() store.Products { return products{t} }
func (t *tx) Orders() store.Orders     { return orders{t} }
func (t *tx) Ledger() inventory.Ledger { return ledger{t} }
func (t *tx) Outbox() store.Outbox     { return outboxRepo{t} }

type users struct{ t *tx }

func (r users) Get(_ context.Context, id uuid.UUID) (domain.User, error) {
	u, ok := r.t.st.users[id]
	if !ok {
		return domain.User{}, domain.NewNotFound("user", id.String())
	}
	return u, nil
}

type products struct{ t *tx }

func (r products) Get(_ context.Context, id uuid.UUID) (domain.Product, error) {
	p, ok := r.t.st.products[id]
	if !ok {
		return domain.Product{}, domain.NewNotFound("product", id.String())
	}
	return p, nil
}

type ledger struct{ t *tx }

func (l ledger) Reserve(_ context.Context, productID uuid.UUID, quantity int) error {
	if err := inventory.CheckQuantity(productID, quantity); err != nil {
		return err
	}
	p, ok := l.t.st.products[productID]
	if !ok {
		return domain.NewNotFound("product", productID.String())
	}
	if p.StockQuantity < quantity {
		return &domain.InsufficientStockError{
			ProductID:   productID.String(),
			ProductName: p.Name,
			Available:   p.StockQuantity,
			Requested:   quantity,
		}
	}
	p.StockQuantity -= quantity
	p.UpdatedAt = l.t.now
	l.t.st.products[productID] = p
	return nil
}

func (l ledger) Release(_ context.Context, productID uuid.UUID, quantity int) error {
	if err := inventory.CheckQuantity(productID, quantity); err != nil {
		return err
	}
	p, ok := l.t.st.products[productID]
	if !ok {
		return domain.NewNotFound("product", productID.String())
	}
	p.StockQuantity += quantity
	p.UpdatedAt = l.t.now
	l.t.st.products[productID] = p
	return nil
}

type orders struct{ t *tx }

func (r orders) Insert(_ context.Context, o *domain.Order) error {
	st := r.t.st
	if _, ok := st.byNumber[o.OrderNumber]; ok {
		return store.ErrDuplicateOrderNumber
	}
	if o.IdempotencyKey != "" {
		if _, ok := st.byKey[o.IdempotencyKey]; ok {
			return store.ErrDuplicateIdempotencyKey
		}
		st.byKey[o.IdempotencyKey] = o.ID
	}
	st.orders[o.ID] = o.Snapshot()
	st.byNumber[o.OrderNumber] = o.ID
	return nil
}

func (r orders) Update(_ context.Context, o *domain.Order) error {
	if _, ok := r.t.st.orders[o.ID]; !ok {
		return domain.NewNotFound("order", o.ID.String())
	}
	r.t.st.orders[o.ID] = o.Snapshot()
	return nil
}

func (r orders) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	return loadOrder(r.t.st, id)
}

// GetForUpdate needs no lock of its own: units of work are serialized.
func (r orders) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.Get(ctx, id)
}

func (r orders) GetByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	id, ok := r.t.st.byKey[key]
	if !ok {
		return nil, domain.NewNotFound("order with idempotency key", key)
	}
	return loadOrder(r.t.st, id)
}

func loadOrder(st *state, id uuid.UUID) (*domain.Order, error) {
	snap, ok := st.orders[id]
	if !ok {
		return nil, domain.NewNotFound("order", id.String())
	}
	return domain.Rehydrate(snap)
}

type outboxRepo struct{ t *tx }

func (r outboxRepo) Append(_ context.Context, msgs ...outbox.Message) error {
	st := r.t.st
	for _, m := range msgs {
		st.nextID++
		st.outbox = append(st.outbox, outbox.Record{
			ID:        st.nextID,
			EventID:   m.EventID,
			EventType: m.EventType,
			Topic:     m.Topic,
			Key:       m.Key,
			Payload:   append([]byte(nil), m.Payload...),
			CreatedAt: r.t.now,
		})
	}
	return nil
}
