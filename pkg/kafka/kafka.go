package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

var ErrDisabled = errors.New("kafka disabled")

type Client struct {
	Brokers  []string
	ClientID string
	Username string
	Password string
}

func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func (c *Client) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

// Producer sends outbox messages through traced kafka-go writers, one per
// topic. The Hash balancer keeps every key on one partition.
type Producer struct {
	client *Client
	tp     trace.TracerProvider

	mu      sync.Mutex
	writers map[string]*otelkafka.Writer
}

func NewProducer(c *Client, tp trace.TracerProvider) (*Producer, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	return &Producer{client: c, tp: tp, writers: map[string]*otelkafka.Writer{}}, nil
}

func (p *Producer) writer(topic string) (*otelkafka.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w, nil
	}
	w, err := otelkafka.NewWriter(p.client.NewWriter(topic),
		otelkafka.WithTracerProvider(p.tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(topic),
				attribute.String("messaging.kafka.client_id", p.client.ClientID),
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka writer for %s: %w", topic, err)
	}
	p.writers[topic] = w
	return w, nil
}

// Send writes one message. WriteMessage is used instead of WriteMessages so
// the span is attached to the right message.
func (p *Producer) Send(ctx context.Context, msg outbox.Message) error {
	w, err := p.writer(msg.Topic)
	if err != nil {
		return err
	}
	return w.WriteMessage(ctx, kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(msg.EventID)},
			{Key: HeaderEventType, Value: []byte(msg.EventType)},
		},
		Time: time.Now().UTC(),
	})
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

var _ outbox.Sender = (*Producer)(nil)
