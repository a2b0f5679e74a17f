// Package fulfillment implements the order use cases: creation with stock
// reservation, status changes with their side effects, and revenue reads.
// Every write runs in one unit of work and stages its event in the same
// transaction.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nazeru/order-fulfillment/internal/events"
	"github.com/nazeru/order-fulfillment/internal/inventory"
	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/internal/store"
	"github.com/nazeru/order-fulfillment/pkg/contracts"
	"github.com/nazeru/order-fulfillment/pkg/metrics"
)

const DefaultCancelReason = "Order cancelled by status update"

const defaultOrderNumberAttempts = 3

type Service struct {
	uow         store.UnitOfWork
	queries     store.Queries
	publisher   *events.Publisher
	policy      *domain.Policy
	clock       func() time.Time
	orderNumber domain.OrderNumberFunc
	attempts    int
	logger      *zap.Logger
	tracer      trace.Tracer
	metrics     *metrics.Fulfillment
}

type Option func(*Service)

func WithPolicy(p *domain.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func WithOrderNumbers(fn domain.OrderNumberFunc) Option {
	return func(s *Service) { s.orderNumber = fn }
}

// WithOrderNumberAttempts bounds how many order numbers CreateOrder tries
// before giving up on collisions.
func WithOrderNumberAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithMetrics(m *metrics.Fulfillment) Option {
	return func(s *Service) { s.metrics = m }
}

func New(uow store.UnitOfWork, queries store.Queries, publisher *events.Publisher, opts ...Option) *Service {
	s := &Service{
		uow:         uow,
		queries:     queries,
		publisher:   publisher,
		policy:      domain.StrictPolicy,
		clock:       time.Now,
		orderNumber: domain.GenerateOrderNumber,
		attempts:    defaultOrderNumberAttempts,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("github.com/nazeru/order-fulfillment/internal/fulfillment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("fulfillment")
	return s
}

func (s *Service) Policy() *domain.Policy { return s.policy }

type LineRequest struct {
	ProductID uuid.UUID
	Quantity  int
}

type CreateOrderInput struct {
	UserID          uuid.UUID
	Lines           []LineRequest
	TaxAmount       decimal.Decimal
	ShippingAmount  decimal.Decimal
	ShippingAddress domain.Address
	Notes           string
	IdempotencyKey  string
}

func (in CreateOrderInput) validate() error {
	if len(in.Lines) == 0 {
		return domain.ErrEmptyOrder
	}
	for _, l := range in.Lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("product %s: %w", l.ProductID, domain.ErrInvalidQuantity)
		}
	}
	if err := domain.CheckAmount("tax", in.TaxAmount); err != nil {
		return err
	}
	return domain.CheckAmount("shipping", in.ShippingAmount)
}

type CreateOrderResult struct {
	Order *domain.Order
	// Replayed is set when the idempotency key matched an earlier order;
	// nothing was reserved or published by this call.
	Replayed bool
}

// CreateOrder reserves stock for every line and persists a Pending order. Any
// failure rolls back all reservations made so far.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "fulfillment.CreateOrder",
		trace.WithAttributes(attribute.String("user.id", in.UserID.String()), attribute.Int("order.lines", len(in.Lines))))
	defer span.End()

	if err := in.validate(); err != nil {
		return CreateOrderResult{}, s.fail(span, err)
	}

	var res CreateOrderResult
	attempt := 0
	op := func() error {
		attempt++
		number := s.orderNumber(s.clock())
		r, err := s.createOnce(ctx, in, number)
		switch {
		case err == nil:
			res = r
			return nil
		case errors.Is(err, store.ErrDuplicateOrderNumber):
			s.metrics.OrderNumberRetried()
			s.logger.Warn("order number collision", zap.String("order_number", number), zap.Int("attempt", attempt))
			return err
		case errors.Is(err, store.ErrDuplicateIdempotencyKey):
			r, err = s.replay(ctx, in.IdempotencyKey)
			if err != nil {
				return backoff.Permanent(err)
			}
			res = r
			return nil
		default:
			return backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.attempts-1)), ctx))
	if errors.Is(err, store.ErrDuplicateOrderNumber) {
		err = fmt.Errorf("no free order number after %d attempts: %w: %w", attempt, domain.ErrTransient, err)
	}
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.metrics.StockRejected()
		}
		s.logger.Info("create order rejected", zap.String("user_id", in.UserID.String()), zap.Error(err))
		return CreateOrderResult{}, s.fail(span, err)
	}

	span.SetAttributes(attribute.String("order.id", res.Order.ID.String()), attribute.Bool("order.replayed", res.Replayed))
	if res.Replayed {
		s.metrics.Replayed()
		s.logger.Info("create order replayed",
			zap.String("order_id", res.Order.ID.String()),
			zap.String("idempotency_key", in.IdempotencyKey))
		return res, nil
	}

	s.publisher.Committed()
	s.metrics.Created()
	s.logger.Info("order created",
		zap.String("order_id", res.Order.ID.String()),
		zap.String("order_number", res.Order.OrderNumber),
		zap.String("total", res.Order.TotalAmount().String()),
		zap.Int("items", res.Order.TotalItems()))
	return res, nil
}

func (s *Service) createOnce(ctx context.Context, in CreateOrderInput, number string) (CreateOrderResult, error) {
	var res CreateOrderResult
	err := s.uow.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		if in.IdempotencyKey != "" {
			existing, err := tx.Orders().GetByIdempotencyKey(ctx, in.IdempotencyKey)
			if err == nil {
				res = CreateOrderResult{Order: existing, Replayed: true}
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}

		if _, err := tx.Users().Get(ctx, in.UserID); err != nil {
			return err
		}

		now := s.clock()
		order, err := domain.NewOrder(domain.NewOrderParams{
			OrderNumber:     number,
			UserID:          in.UserID,
			TaxAmount:       in.TaxAmount,
			ShippingAmount:  in.ShippingAmount,
			ShippingAddress: in.ShippingAddress,
			Notes:           in.Notes,
			IdempotencyKey:  in.IdempotencyKey,
			Now:             now,
		})
		if err != nil {
			return err
		}

		for _, line := range in.Lines {
			p, err := tx.Products().Get(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if p.Status != domain.ProductStatusActive {
				return fmt.Errorf("product %s is %s: %w", p.Name, p.Status, domain.ErrProductUnavailable)
			}
			if err := tx.Ledger().Reserve(ctx, p.ID, line.Quantity); err != nil {
				return err
			}
			if err := order.AddLine(domain.OrderLine{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    line.Quantity,
				UnitPrice:   p.Price,
			}); err != nil {
				return err
			}
		}
		if err := order.Validate(); err != nil {
			return fmt.Errorf("order %s: %w", order.ID, err)
		}
		if err := tx.Orders().Insert(ctx, order); err != nil {
			return err
		}

		evt, err := events.OrderCreated(order, now)
		if err != nil {
			return err
		}
		if err := s.publisher.Stage(ctx, tx.Outbox(), evt); err != nil {
			return err
		}
		res = CreateOrderResult{Order: order}
		return nil
	})
	return res, err
}

func (s *Service) replay(ctx context.Context, key string) (CreateOrderResult, error) {
	var res CreateOrderResult
	err := s.uow.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().GetByIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		res = CreateOrderResult{Order: o, Replayed: true}
		return nil
	})
	return res, err
}

// UpdateStatus moves an order to status under the configured policy. Entering
// CANCELLED or REFUNDED returns every line's quantity to stock exactly once.
// reason is carried on the published event.
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, reason string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "fulfillment.UpdateStatus",
		trace.WithAttributes(attribute.String("order.id", orderID.String()), attribute.String("order.status", string(status))))
	defer span.End()

	if status == domain.OrderStatusCancelled && reason == "" {
		reason = DefaultCancelReason
	}

	var (
		order *domain.Order
		tr    domain.Transition
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		now := s.clock()
		t, err := o.Transition(s.policy, status, now)
		if err != nil {
			return err
		}
		if t.RestoresStock() {
			if err := inventory.RestoreLines(ctx, tx.Ledger(), o.Lines()); err != nil {
				return err
			}
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}

		evt, err := s.statusEvent(o, t, reason, now)
		if err != nil {
			return err
		}
		if err := s.publisher.Stage(ctx, tx.Outbox(), evt); err != nil {
			return err
		}
		order, tr = o, t
		return nil
	})
	if err != nil {
		s.logger.Info("status update rejected",
			zap.String("order_id", orderID.String()),
			zap.String("status", string(status)),
			zap.Error(err))
		return nil, s.fail(span, err)
	}

	s.publisher.Committed()
	s.metrics.Transitioned(string(tr.From), string(tr.To), tr.RestoresStock())
	s.logger.Info("order status updated",
		zap.String("order_id", order.ID.String()),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.Bool("stock_restored", tr.RestoresStock()))
	return order, nil
}

// CancelOrder is UpdateStatus to CANCELLED.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) (*domain.Order, error) {
	return s.UpdateStatus(ctx, orderID, domain.OrderStatusCancelled, reason)
}

func (s *Service) statusEvent(o *domain.Order, t domain.Transition, reason string, now time.Time) (contracts.Event, error) {
	if t.To == domain.OrderStatusCancelled {
		return events.OrderCancelled(o, t.From, reason, t.RestoresStock(), now)
	}
	return events.OrderStatusChanged(o, t.From, reason, now)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
