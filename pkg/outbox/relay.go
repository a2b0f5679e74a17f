package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nazeru/order-fulfillment/pkg/metrics"
)

type Store interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause error) error
}

// Sender delivers one message to the bus. It must be safe to call again with
// a message that was already delivered.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type RelayConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxBackoff   time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Relay drains pending outbox records to a Sender in id order. A record is
// marked sent only after the Sender accepted it, so a crash in between leads
// to a redelivery and never to a loss.
type Relay struct {
	store   Store
	sender  Sender
	logger  *zap.Logger
	metrics *metrics.Outbox
	cfg     RelayConfig
	kick    chan struct{}
}

func NewRelay(store Store, sender Sender, logger *zap.Logger, m *metrics.Outbox, cfg RelayConfig) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		store:   store,
		sender:  sender,
		logger:  logger.Named("outbox"),
		metrics: m,
		cfg:     cfg.withDefaults(),
		kick:    make(chan struct{}, 1),
	}
}

// Kick wakes the relay without waiting for the next poll. It never blocks.
func (r *Relay) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.PollInterval
	b.MaxInterval = r.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.kick:
		case <-timer.C:
		}

		n, err := r.DrainOnce(ctx)
		next := r.cfg.PollInterval
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			next = b.NextBackOff()
			r.logger.Warn("drain failed", zap.Error(err), zap.Int("sent", n), zap.Duration("retry_in", next))
		case n == r.cfg.BatchSize:
			b.Reset()
			next = 0
		default:
			b.Reset()
		}
		timer.Reset(next)
	}
}

// DrainOnce sends one batch and returns how many records were delivered. After
// a failure the rest of that topic/key in the batch is held back, so records of
// one key are never sent out of order, while other keys keep flowing. The
// first failure is returned once the batch is done.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	recs, err := r.store.FetchPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}

	var (
		sent     int
		firstErr error
		blocked  = map[string]bool{}
	)
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		stream := rec.Topic + "/" + rec.Key
		if blocked[stream] {
			continue
		}
		if err := r.sender.Send(ctx, rec.Message()); err != nil {
			r.metrics.Failed(rec.Topic)
			if markErr := r.store.MarkFailed(ctx, rec.ID, err); markErr != nil {
				r.logger.Error("mark failed", zap.Int64("outbox_id", rec.ID), zap.Error(markErr))
			}
			blocked[stream] = true
			if firstErr == nil {
				firstErr = fmt.Errorf("send %s to %s: %w", rec.EventID, rec.Topic, err)
			}
			continue
		}
		if err := r.store.MarkSent(ctx, rec.ID); err != nil {
			return sent, fmt.Errorf("mark sent %d: %w", rec.ID, err)
		}
		r.metrics.Sent(rec.Topic)
		r.logger.Debug("published",
			zap.String("event_id", rec.EventID),
			zap.String("event_type", rec.EventType),
			zap.String("topic", rec.Topic),
			zap.String("key", rec.Key))
		sent++
	}
	return sent, firstErr
}
