package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Message is an event staged for delivery. Key selects the partition so all
// messages of one order keep their relative order.
type Message struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
}

type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

func (r Record) Message() Message {
	return Message{EventID: r.EventID, EventType: r.EventType, Topic: r.Topic, Key: r.Key, Payload: r.Payload}
}

// DB is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx, so Insert can run
// inside the transaction that changes the business rows.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func Insert(ctx context.Context, db DB, msg Message) error {
	_, err := db.Exec(ctx,
		`INSERT INTO outbox(event_id, event_type, topic, key, payload) VALUES ($1, $2, $3, $4, $5)`,
		msg.EventID, msg.EventType, msg.Topic, msg.Key, []byte(msg.Payload))
	return err
}

func MarkSent(ctx context.Context, db DB, id int64) error {
	_, err := db.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

func MarkFailed(ctx context.Context, db DB, id int64, cause error) error {
	_, err := db.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_error=$2 WHERE id=$1`, id, cause.Error())
	return err
}

func FetchPending(ctx context.Context, db DB, limit int) ([]Record, error) {
	rows, err := db.Query(ctx, `SELECT id, event_id, event_type, topic, key, payload, attempts, coalesce(last_error, ''), created_at, sent_at
		FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.EventType, &rec.Topic, &rec.Key, &rec.Payload,
			&rec.Attempts, &rec.LastError, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PgStore adapts the package functions to the Relay's Store.
type PgStore struct {
	DB DB
}

func (s PgStore) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	return FetchPending(ctx, s.DB, limit)
}

func (s PgStore) MarkSent(ctx context.Context, id int64) error {
	return MarkSent(ctx, s.DB, id)
}

func (s PgStore) MarkFailed(ctx context.Context, id int64, cause error) error {
	return MarkFailed(ctx, s.DB, id, cause)
}
