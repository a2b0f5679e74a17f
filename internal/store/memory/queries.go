package memory

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/internal/store"
	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

var (
	_ store.Queries = (*Store)(nil)
	_ outbox.Store  = (*Store)(nil)
)

func (s *Store) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadOrder(s.st, id)
}

func (s *Store) GetOrderByNumber(_ context.Context, number string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.st.byNumber[number]
	if !ok {
		return nil, domain.NewNotFound("order", number)
	}
	return loadOrder(s.st, id)
}

func (s *Store) SumTotals(_ context.Context, statuses []domain.OrderStatus, from, to *time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[domain.OrderStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	sum := decimal.Zero
	for _, o := range s.st.orders {
		if !want[o.Status] {
			continue
		}
		if from != nil && o.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && o.CreatedAt.After(*to) {
			continue
		}
		sum = sum.Add(o.TotalAmount)
	}
	return sum, nil
}

func (s *Store) CountByStatus(_ context.Context, status domain.OrderStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, o := range s.st.orders {
		if o.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) FetchPending(_ context.Context, limit int) ([]outbox.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []outbox.Record
	for _, r := range s.st.outbox {
		if len(out) == limit {
			break
		}
		if r.SentAt == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) MarkSent(_ context.Context, id int64) error {
	return s.updateRecord(id, func(r *outbox.Record) {
		now := s.clock()
		r.SentAt = &now
	})
}

func (s *Store) MarkFailed(_ context.Context, id int64, cause error) error {
	return s.updateRecord(id, func(r *outbox.Record) {
		r.Attempts++
		r.LastError = cause.Error()
	})
}

func (s *Store) updateRecord(id int64, fn func(*outbox.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.outbox {
		if s.st.outbox[i].ID == id {
			fn(&s.st.outbox[i])
			return nil
		}
	}
	return domain.NewNotFound("outbox record", strconv.FormatInt(id, 10))
}
