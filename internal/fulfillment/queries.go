package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
)

var ErrInvalidWindow = errors.New("revenue window ends before it starts")

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.queries.GetOrder(ctx, id)
}

func (s *Service) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return s.queries.GetOrderByNumber(ctx, number)
}

// Revenue sums the totals of confirmed, processing, shipped and delivered
// orders.
func (s *Service) Revenue(ctx context.Context) (decimal.Decimal, error) {
	return s.queries.SumTotals(ctx, domain.RevenueStatuses, nil, nil)
}

// RevenueBetween is Revenue restricted to orders created in [from, to].
func (s *Service) RevenueBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	if to.Before(from) {
		return decimal.Zero, ErrInvalidWindow
	}
	return s.queries.SumTotals(ctx, domain.RevenueStatuses, &from, &to)
}

func (s *Service) CountByStatus(ctx context.Context, status domain.OrderStatus) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("%w %q", domain.ErrInvalidStatus, status)
	}
	return s.queries.CountByStatus(ctx, status)
}
