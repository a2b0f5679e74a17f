package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/order-fulfillment/internal/analytics"
)

// Analytics stores the inbox and order_facts tables.
type Analytics struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewAnalytics(pool *pgxpool.Pool) *Analytics {
	return &Analytics{pool: pool, timeout: 5 * time.Second}
}

func (a *Analytics) Do(ctx context.Context, fn func(ctx context.Context, tx analytics.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	pgtx, err := a.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return dbErr("begin", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if err := fn(ctx, analyticsTx{pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return dbErr("commit", err)
	}
	return nil
}

func (a *Analytics) SummaryByStatus(ctx context.Context) ([]analytics.StatusSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	rows, err := a.pool.Query(ctx, `SELECT status, count(*), coalesce(sum(total_amount), 0), coalesce(sum(refund_amount), 0)
		FROM order_facts GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, dbErr("fact summary", err)
	}
	defer rows.Close()
	var out []analytics.StatusSummary
	for rows.Next() {
		var s analytics.StatusSummary
		if err := rows.Scan(&s.Status, &s.Orders, &s.TotalAmount, &s.RefundAmount); err != nil {
			return nil, dbErr("fact summary scan", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("fact summary", err)
	}
	return out, nil
}

type analyticsTx struct{ q querier }

func (t analyticsTx) MarkSeen(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := t.q.Exec(ctx, `INSERT INTO inbox(event_id, event_type, received_at)
		VALUES ($1, $2, now()) ON CONFLICT (event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		return false, dbErr("inbox insert", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t analyticsTx) GetFact(ctx context.Context, orderID uuid.UUID) (analytics.Fact, bool, error) {
	var f analytics.Fact
	err := t.q.QueryRow(ctx, `SELECT order_id, order_number, user_id, status, total_amount,
		refund_amount, item_count, events, created_at, last_event_at
		FROM order_facts WHERE order_id = $1 FOR UPDATE`, orderID).Scan(
		&f.OrderID, &f.OrderNumber, &f.UserID, &f.Status, &f.TotalAmount,
		&f.RefundAmount, &f.ItemCount, &f.Events, &f.CreatedAt, &f.LastEventAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return analytics.Fact{}, false, nil
	}
	if err != nil {
		return analytics.Fact{}, false, dbErr("fact select", err)
	}
	return f, true, nil
}

func (t analyticsTx) PutFact(ctx context.Context, f analytics.Fact) error {
	_, err := t.q.Exec(ctx, `INSERT INTO order_facts(order_id, order_number, user_id, status,
		total_amount, refund_amount, item_count, events, created_at, last_event_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (order_id) DO UPDATE SET
			order_number = EXCLUDED.order_number,
			user_id = EXCLUDED.user_id,
			status = EXCLUDED.status,
			total_amount = EXCLUDED.total_amount,
			refund_amount = EXCLUDED.refund_amount,
			item_count = EXCLUDED.item_count,
			events = EXCLUDED.events,
			created_at = EXCLUDED.created_at,
			last_event_at = EXCLUDED.last_event_at`,
		f.OrderID, f.OrderNumber, f.UserID, f.Status, f.TotalAmount,
		f.RefundAmount, f.ItemCount, f.Events, f.CreatedAt, f.LastEventAt)
	if err != nil {
		return dbErr("fact upsert", err)
	}
	return nil
}

var (
	_ analytics.Store  = (*Analytics)(nil)
	_ analytics.Reader = (*Analytics)(nil)
)
