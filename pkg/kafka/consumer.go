package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Message is a consumed record, independent of the client library.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// Handler processes one message. Returning an error retries the message with
// backoff; wrap the error with backoff.Permanent to skip it instead.
type Handler func(ctx context.Context, msg Message) error

type Consumer interface {
	Consume(ctx context.Context, h Handler) error
	Close() error
}

const maxHandleElapsed = time.Minute

// handle reports false when ctx ended before the message was settled.
func handle(ctx context.Context, logger *zap.Logger, h Handler, msg Message) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = maxHandleElapsed

	err := backoff.RetryNotify(func() error { return h(ctx, msg) }, backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			logger.Warn("handler failed, retrying",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Duration("retry_in", next),
				zap.Error(err))
		})
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	logger.Error("dropping message",
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.ByteString("key", msg.Key),
		zap.Error(err))
	return true
}

// ReaderConsumer reads through a traced kafka-go group reader. Offsets are
// committed by the reader as messages are read, so handlers must be
// idempotent and fast to fail.
type ReaderConsumer struct {
	reader *otelkafka.Reader
	logger *zap.Logger
}

func NewReaderConsumer(c *Client, topic, groupID string, logger *zap.Logger) (*ReaderConsumer, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	reader, err := otelkafka.NewReader(c.NewReader(topic, groupID))
	if err != nil {
		return nil, fmt.Errorf("kafka reader for %s: %w", topic, err)
	}
	return &ReaderConsumer{reader: reader, logger: logger.Named("kafka-reader")}, nil
}

func (rc *ReaderConsumer) Consume(ctx context.Context, h Handler) error {
	for {
		msg, err := rc.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			rc.logger.Error("read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		m := fromKafkaGo(msg)
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(m.Headers))
		if !handle(msgCtx, rc.logger, h, m) {
			return nil
		}
	}
}

func (rc *ReaderConsumer) Close() error {
	return rc.reader.Close()
}

func fromKafkaGo(msg *kafka.Message) Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
	}
}

// FranzConsumer commits offsets only after every record of a poll was
// handled, which gives at-least-once consumption.
type FranzConsumer struct {
	client *kgo.Client
	logger *zap.Logger
}

func NewFranzConsumer(c *Client, topic, groupID string, logger *zap.Logger) (*FranzConsumer, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	opts := append(c.franzOpts(logger),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.SessionTimeout(30*time.Second),
		kgo.RebalanceTimeout(30*time.Second),
	)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &FranzConsumer{client: client, logger: logger.Named("franz-consumer")}, nil
}

func (fc *FranzConsumer) Consume(ctx context.Context, h Handler) error {
	for {
		fetches := fc.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			fc.logger.Error("fetch failed", zap.String("topic", topic), zap.Int32("partition", partition), zap.Error(err))
		})

		var done []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			if ctx.Err() != nil {
				return
			}
			m := fromFranz(r)
			msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(m.Headers))
			if handle(msgCtx, fc.logger, h, m) {
				done = append(done, r)
			}
		})
		if len(done) == 0 {
			continue
		}
		if err := fc.client.CommitRecords(ctx, done...); err != nil {
			fc.logger.Error("commit failed", zap.Int("records", len(done)), zap.Error(err))
		}
	}
}

func (fc *FranzConsumer) Close() error {
	fc.client.Close()
	return nil
}

func fromFranz(r *kgo.Record) Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     r.Topic,
		Partition: int(r.Partition),
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
	}
}
