package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nazeru/order-fulfillment/internal/inventory"
	"github.com/nazeru/order-fulfillment/internal/order/domain"
)

type users struct{ q querier }

func (r users) Get(ctx context.Context, id uuid.UUID) (domain.User, error) {
	u := domain.User{ID: id}
	err := r.q.QueryRow(ctx, `SELECT email, name FROM users WHERE id=$1`, id).Scan(&u.Email, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.NewNotFound("user", id.String())
	}
	if err != nil {
		return domain.User{}, dbErr("get user", err)
	}
	return u, nil
}

type products struct{ q querier }

func (r products) Get(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	p := domain.Product{ID: id}
	var status string
	err := r.q.QueryRow(ctx,
		`SELECT name, sku, price, stock_quantity, status, updated_at FROM products WHERE id=$1`, id,
	).Scan(&p.Name, &p.SKU, &p.Price, &p.StockQuantity, &status, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, domain.NewNotFound("product", id.String())
	}
	if err != nil {
		return domain.Product{}, dbErr("get product", err)
	}
	p.Status = domain.ProductStatus(status)
	return p, nil
}

// ledger reserves with a single conditional UPDATE so concurrent
// reservations of the same product can never drive stock below zero.
type ledger struct{ q querier }

func (l ledger) Reserve(ctx context.Context, productID uuid.UUID, quantity int) error {
	if err := inventory.CheckQuantity(productID, quantity); err != nil {
		return err
	}
	var left int
	err := l.q.QueryRow(ctx,
		`UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = now()
		 WHERE id = $1 AND stock_quantity >= $2
		 RETURNING stock_quantity`, productID, quantity,
	).Scan(&left)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return dbErr("reserve stock", err)
	}

	var (
		name      string
		available int
	)
	err = l.q.QueryRow(ctx, `SELECT name, stock_quantity FROM products WHERE id=$1`, productID).Scan(&name, &available)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewNotFound("product", productID.String())
	}
	if err != nil {
		return dbErr("read stock", err)
	}
	return &domain.InsufficientStockError{
		ProductID:   productID.String(),
		ProductName: name,
		Available:   available,
		Requested:   quantity,
	}
}

func (l ledger) Release(ctx context.Context, productID uuid.UUID, quantity int) error {
	if err := inventory.CheckQuantity(productID, quantity); err != nil {
		return err
	}
	tag, err := l.q.Exec(ctx,
		`UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = now() WHERE id = $1`,
		productID, quantity)
	if err != nil {
		return dbErr("release stock", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFound("product", productID.String())
	}
	return nil
}

// UpsertUser and UpsertProduct seed reference data for local runs and the
// bench runner.
func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO users(id, email, name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email=excluded.email, name=excluded.name`, u.ID, u.Email, u.Name)
	if err != nil {
		return dbErr("upsert user", err)
	}
	return nil
}

func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	status := p.Status
	if status == "" {
		status = domain.ProductStatusActive
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO products(id, name, sku, price, stock_quantity, status) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name=excluded.name, sku=excluded.sku, price=excluded.price,
			stock_quantity=excluded.stock_quantity, status=excluded.status, updated_at=now()`,
		p.ID, p.Name, p.SKU, p.Price, p.StockQuantity, string(status))
	if err != nil {
		return dbErr("upsert product", err)
	}
	return nil
}

func (s *Store) Product(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	return products{s.pool}.Get(ctx, id)
}
