// Package memory is an in-process implementation of the store collaborators.
// Units of work are serialized and run against a private copy of the state
// that replaces the shared one on commit, which gives the same all-or-nothing
// outcome as a database transaction.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/internal/store"
	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

type state struct {
	users    map[uuid.UUID]domain.User
	products map[uuid.UUID]domain.Product
	orders   map[uuid.UUID]domain.Snapshot
	byNumber map[string]uuid.UUID
	byKey    map[string]uuid.UUID
	outbox   []outbox.Record
	nextID   int64
}

func newState() *state {
	return &state{
		users:    map[uuid.UUID]domain.User{},
		products: map[uuid.UUID]domain.Product{},
		orders:   map[uuid.UUID]domain.Snapshot{},
		byNumber: map[string]uuid.UUID{},
		byKey:    map[string]uuid.UUID{},
	}
}

func (s *state) clone() *state {
	c := &state{
		users:    make(map[uuid.UUID]domain.User, len(s.users)),
		products: make(map[uuid.UUID]domain.Product, len(s.products)),
		orders:   make(map[uuid.UUID]domain.Snapshot, len(s.orders)),
		byNumber: make(map[string]uuid.UUID, len(s.byNumber)),
		byKey:    make(map[string]uuid.UUID, len(s.byKey)),
		outbox:   append([]outbox.Record(nil), s.outbox...),
		nextID:   s.nextID,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.byNumber {
		c.byNumber[k] = v
	}
	for k, v := range s.byKey {
		c.byKey[k] = v
	}
	return c
}

type Store struct {
	mu    sync.Mutex
	st    *state
	clock func() time.Time
}

func New() *Store {
	return &Store{st: newState(), clock: time.Now}
}

// WithClock sets the time source used for stock and outbox timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "" {
		p.Status = domain.ProductStatusActive
	}
	s.st.products[p.ID] = p
}

func (s *Store) Product(id uuid.UUID) (domain.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	return p, ok
}

// OutboxRecords returns a copy of every staged record, sent or not.
func (s *Store) OutboxRecords() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Record(nil), s.st.outbox...)
}

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work, now: s.clock()}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

var _ store.UnitOfWork = (*Store)(nil)
