package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nazeru/order-fulfillment/pkg/contracts"
	"github.com/nazeru/order-fulfillment/pkg/kafka"
	"github.com/nazeru/order-fulfillment/pkg/logging"
	"github.com/nazeru/order-fulfillment/pkg/metrics"
)

const (
	resultApplied = "applied"
	resultInvalid = "invalid"
)

type Projector struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Consumer
}

func NewProjector(s Store, logger *zap.Logger, m *metrics.Consumer) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{store: s, logger: logger, metrics: m}
}

// Handle is a kafka.Handler. Undecodable events are dropped; storage errors
// are returned so the consumer retries them.
func (p *Projector) Handle(ctx context.Context, msg kafka.Message) error {
	start := time.Now()
	evt, err := contracts.Parse(msg.Value)
	if err != nil {
		p.metrics.Processed("unknown", resultInvalid)
		return backoff.Permanent(err)
	}

	var duplicate bool
	err = p.store.Do(ctx, func(ctx context.Context, tx Tx) error {
		fresh, err := tx.MarkSeen(ctx, evt.EventID, evt.Type)
		if err != nil {
			return err
		}
		if !fresh {
			duplicate = true
			return nil
		}
		orderID, err := uuid.Parse(evt.OrderID)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("order_id %q: %w", evt.OrderID, err))
		}
		fact, found, err := tx.GetFact(ctx, orderID)
		if err != nil {
			return err
		}
		fact, err = Apply(fact, found, evt)
		if err != nil {
			return backoff.Permanent(err)
		}
		return tx.PutFact(ctx, fact)
	})

	fields := logging.Fields{
		OrderID:    evt.OrderID,
		EventID:    evt.EventID,
		Step:       evt.Type,
		DurationMS: time.Since(start).Milliseconds(),
	}
	switch {
	case err != nil:
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			p.metrics.Processed(evt.Type, resultInvalid)
		}
		return err
	case duplicate:
		p.metrics.Duplicate()
		fields.Status = "duplicate"
		p.logger.Debug("event already applied", fields.Zap()...)
	default:
		p.metrics.Processed(evt.Type, resultApplied)
		fields.Status = resultApplied
		p.logger.Info("event applied", fields.Zap()...)
	}
	return nil
}
