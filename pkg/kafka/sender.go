package kafka

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

const (
	DriverKafkaGo = "kafka-go"
	DriverFranz   = "franz"
)

// Sender is an outbox.Sender that owns a connection.
type Sender interface {
	Send(ctx context.Context, msg outbox.Message) error
	Close() error
}

// NewSender picks the producer for driver, or a LogSender when no brokers
// are configured.
func NewSender(c *Client, driver string, tp trace.TracerProvider, logger *zap.Logger) (Sender, error) {
	if !c.Enabled() {
		return LogSender{Logger: logger}, nil
	}
	var (
		s   Sender
		err error
	)
	switch driver {
	case "", DriverKafkaGo:
		s, err = NewProducer(c, tp)
	case DriverFranz:
		s, err = NewFranzProducer(c, logger)
	default:
		err = fmt.Errorf("unknown kafka driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewConsumer mirrors NewSender for the read side.
func NewConsumer(c *Client, driver, topic, groupID string, logger *zap.Logger) (Consumer, error) {
	var (
		cons Consumer
		err  error
	)
	switch driver {
	case "", DriverKafkaGo:
		cons, err = NewReaderConsumer(c, topic, groupID, logger)
	case DriverFranz:
		cons, err = NewFranzConsumer(c, topic, groupID, logger)
	default:
		err = fmt.Errorf("unknown kafka driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return cons, nil
}
