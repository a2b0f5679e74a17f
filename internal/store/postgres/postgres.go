// Package postgres implements the store collaborators on PostgreSQL through
// pgx. Every unit of work is one database transaction.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/order-fulfillment/internal/inventory"
	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/internal/store"
	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

//go:embed schema.sql
var schema string

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, timeout: 5 * time.Second}
}

// Connect opens a pool and checks the database answers.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return dbErr("begin", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if err := fn(ctx, &tx{q: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return dbErr("commit", err)
	}
	return nil
}

var (
	_ store.UnitOfWork = (*Store)(nil)
	_ store.Queries    = (*Store)(nil)
)

type tx struct {
	q querier
}

func (t *tx) Users() store.Users       { return users{t.q} }
func (t *tx) Products() store.Products { return products{t.q} }
func (t *tx) Orders() store.Orders     { return orders{t.q} }
func (t *tx) Ledger() inventory.Ledger { return ledger{t.q} }
func (t *tx) Outbox() store.Outbox     { return outboxRepo{t.q} }

type outboxRepo struct{ q querier }

func (r outboxRepo) Append(ctx context.Context, msgs ...outbox.Message) error {
	for _, m := range msgs {
		if err := outbox.Insert(ctx, r.q, m); err != nil {
			return fmt.Errorf("outbox insert %s: %w", m.EventID, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// dbErr marks failures worth retrying (lost connections, timeouts,
// serialization and lock conflicts) with domain.ErrTransient.
func dbErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%s: %w: %w", op, domain.ErrTransient, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
