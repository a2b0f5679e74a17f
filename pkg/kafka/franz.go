package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"go.uber.org/zap"

	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

func (c *Client) franzOpts(logger *zap.Logger) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.WithLogger(zapLogger{logger.Named("franz")}),
	}
	if c.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.ClientID))
	}
	if c.Username != "" && c.Password != "" {
		opts = append(opts, kgo.SASL(plain.Auth{
			User: c.Username,
			Pass: c.Password,
		}.AsMechanism()))
	}
	return opts
}

// FranzProducer is the franz-go alternative to Producer. Records are
// produced synchronously so the relay only marks what the brokers acked.
type FranzProducer struct {
	client *kgo.Client
}

func NewFranzProducer(c *Client, logger *zap.Logger) (*FranzProducer, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	opts := append(c.franzOpts(logger),
		kgo.AllowAutoTopicCreation(),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &FranzProducer{client: client}, nil
}

func (p *FranzProducer) Send(ctx context.Context, msg outbox.Message) error {
	record := &kgo.Record{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Payload,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEventID, Value: []byte(msg.EventID)},
			{Key: HeaderEventType, Value: []byte(msg.EventType)},
		},
		Timestamp: time.Now(),
	}
	return p.client.ProduceSync(ctx, record).FirstErr()
}

func (p *FranzProducer) Close() error {
	p.client.Close()
	return nil
}

var _ outbox.Sender = (*FranzProducer)(nil)

// zapLogger routes franz-go client logs into zap.
type zapLogger struct {
	l *zap.Logger
}

func (z zapLogger) Level() kgo.LogLevel {
	if z.l.Core().Enabled(zap.DebugLevel) {
		return kgo.LogLevelDebug
	}
	return kgo.LogLevelInfo
}

func (z zapLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(keyvals[i]), keyvals[i+1]))
	}
	switch level {
	case kgo.LogLevelError:
		z.l.Error(msg, fields...)
	case kgo.LogLevelWarn:
		z.l.Warn(msg, fields...)
	case kgo.LogLevelInfo:
		z.l.Info(msg, fields...)
	default:
		z.l.Debug(msg, fields...)
	}
}
