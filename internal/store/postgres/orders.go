package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/internal/store"
)

const orderColumns = `id, order_number, user_id, status, tax_amount, shipping_amount, total_amount,
	shipping_street, shipping_city, shipping_state, shipping_postal, shipping_country,
	notes, coalesce(idempotency_key, ''), created_at, updated_at, shipped_at, delivered_at, stock_restored`

type orders struct{ q querier }

func (r orders) Insert(ctx context.Context, o *domain.Order) error {
	s := o.Snapshot()
	var key *string
	if s.IdempotencyKey != "" {
		key = &s.IdempotencyKey
	}
	_, err := r.q.Exec(ctx, `INSERT INTO orders(
			id, order_number, user_id, status, subtotal, tax_amount, shipping_amount, total_amount,
			shipping_street, shipping_city, shipping_state, shipping_postal, shipping_country,
			notes, idempotency_key, created_at, updated_at, shipped_at, delivered_at, stock_restored)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		s.ID, s.OrderNumber, s.UserID, string(s.Status), o.Subtotal(), s.TaxAmount, s.ShippingAmount, s.TotalAmount,
		s.ShippingAddress.Street, s.ShippingAddress.City, s.ShippingAddress.State, s.ShippingAddress.PostalCode, s.ShippingAddress.Country,
		s.Notes, key, s.CreatedAt, s.UpdatedAt, s.ShippedAt, s.DeliveredAt, s.StockRestored,
	)
	if constraint, ok := isUniqueViolation(err); ok {
		if strings.Contains(constraint, "idempotency") {
			return store.ErrDuplicateIdempotencyKey
		}
		return store.ErrDuplicateOrderNumber
	}
	if err != nil {
		return dbErr("insert order", err)
	}

	for i, l := range s.Lines {
		_, err = r.q.Exec(ctx,
			`INSERT INTO order_lines(order_id, line_no, product_id, product_name, quantity, unit_price) VALUES ($1, $2, $3, $4, $5, $6)`,
			s.ID, i+1, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice,
		)
		if err != nil {
			return dbErr("insert order line", err)
		}
	}
	return nil
}

// Update persists status, amounts and timestamps. Lines are immutable once
// inserted.
func (r orders) Update(ctx context.Context, o *domain.Order) error {
	s := o.Snapshot()
	tag, err := r.q.Exec(ctx, `UPDATE orders SET
			status=$2, subtotal=$3, tax_amount=$4, shipping_amount=$5, total_amount=$6,
			notes=$7, updated_at=$8, shipped_at=$9, delivered_at=$10, stock_restored=$11
		WHERE id=$1`,
		s.ID, string(s.Status), o.Subtotal(), s.TaxAmount, s.ShippingAmount, s.TotalAmount,
		s.Notes, s.UpdatedAt, s.ShippedAt, s.DeliveredAt, s.StockRestored,
	)
	if err != nil {
		return dbErr("update order", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFound("order", s.ID.String())
	}
	return nil
}

func (r orders) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return loadOrder(ctx, r.q, `WHERE id=$1`, id)
}

func (r orders) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return loadOrder(ctx, r.q, `WHERE id=$1 FOR UPDATE`, id)
}

func (r orders) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return loadOrder(ctx, r.q, `WHERE idempotency_key=$1`, key)
}

func loadOrder(ctx context.Context, q querier, where string, arg any) (*domain.Order, error) {
	var (
		s      domain.Snapshot
		status string
	)
	err := q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg).Scan(
		&s.ID, &s.OrderNumber, &s.UserID, &status, &s.TaxAmount, &s.ShippingAmount, &s.TotalAmount,
		&s.ShippingAddress.Street, &s.ShippingAddress.City, &s.ShippingAddress.State,
		&s.ShippingAddress.PostalCode, &s.ShippingAddress.Country,
		&s.Notes, &s.IdempotencyKey, &s.CreatedAt, &s.UpdatedAt, &s.ShippedAt, &s.DeliveredAt, &s.StockRestored,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFound("order", fmt.Sprint(arg))
	}
	if err != nil {
		return nil, dbErr("load order", err)
	}
	s.Status = domain.OrderStatus(status)

	rows, err := q.Query(ctx,
		`SELECT product_id, product_name, quantity, unit_price FROM order_lines WHERE order_id=$1 ORDER BY line_no`, s.ID)
	if err != nil {
		return nil, dbErr("load order lines", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, dbErr("scan order line", err)
		}
		s.Lines = append(s.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("load order lines", err)
	}
	return domain.Rehydrate(s)
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return loadOrder(ctx, s.pool, `WHERE id=$1`, id)
}

func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return loadOrder(ctx, s.pool, `WHERE order_number=$1`, number)
}

func (s *Store) SumTotals(ctx context.Context, statuses []domain.OrderStatus, from, to *time.Time) (decimal.Decimal, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx, `SELECT coalesce(sum(total_amount), 0) FROM orders
		WHERE status = ANY($1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)`,
		names, from, to,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, dbErr("sum totals", err)
	}
	return sum, nil
}

func (s *Store) CountByStatus(ctx context.Context, status domain.OrderStatus) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE status=$1`, string(status)).Scan(&n); err != nil {
		return 0, dbErr("count orders", err)
	}
	return n, nil
}
