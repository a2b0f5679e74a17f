package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

// LogSender stands in for a broker in local runs: every message is logged
// and reported as delivered.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, msg outbox.Message) error {
	s.Logger.Info("event (kafka disabled)",
		zap.String("topic", msg.Topic),
		zap.String("key", msg.Key),
		zap.String("event_id", msg.EventID),
		zap.String("event_type", msg.EventType),
		zap.ByteString("payload", msg.Payload))
	return nil
}

func (s LogSender) Close() error { return nil }
