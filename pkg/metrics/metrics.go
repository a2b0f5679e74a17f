package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fulfillment"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Fulfillment counts use case outcomes. A nil *Fulfillment is a no-op.
type Fulfillment struct {
	OrdersCreated      prometheus.Counter
	OrderReplays       prometheus.Counter
	StockRejections    prometheus.Counter
	Transitions        *prometheus.CounterVec
	StockRestorations  prometheus.Counter
	OrderNumberRetries prometheus.Counter
}

func NewFulfillment(reg prometheus.Registerer) *Fulfillment {
	m := &Fulfillment{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_created_total",
			Help: "Orders committed by CreateOrder.",
		}),
		OrderReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_idempotent_replays_total",
			Help: "CreateOrder calls answered from an existing idempotency key.",
		}),
		StockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_rejections_total",
			Help: "CreateOrder calls rejected for insufficient stock.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_transitions_total",
			Help: "Committed order status transitions.",
		}, []string{"from", "to"}),
		StockRestorations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_restorations_total",
			Help: "Orders whose reserved stock was released back.",
		}),
		OrderNumberRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_number_retries_total",
			Help: "Order number collisions that triggered a retry.",
		}),
	}
	reg.MustRegister(m.OrdersCreated, m.OrderReplays, m.StockRejections, m.Transitions, m.StockRestorations, m.OrderNumberRetries)
	return m
}

func (m *Fulfillment) Created() {
	if m != nil {
		m.OrdersCreated.Inc()
	}
}

func (m *Fulfillment) Replayed() {
	if m != nil {
		m.OrderReplays.Inc()
	}
}

func (m *Fulfillment) StockRejected() {
	if m != nil {
		m.StockRejections.Inc()
	}
}

func (m *Fulfillment) Transitioned(from, to string, restored bool) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
	if restored {
		m.StockRestorations.Inc()
	}
}

func (m *Fulfillment) OrderNumberRetried() {
	if m != nil {
		m.OrderNumberRetries.Inc()
	}
}

// Outbox tracks relay delivery. A nil *Outbox is a no-op.
type Outbox struct {
	Published *prometheus.CounterVec
	Failures  *prometheus.CounterVec
}

func NewOutbox(reg prometheus.Registerer) *Outbox {
	m := &Outbox{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "published_total",
			Help: "Outbox records delivered to the bus.",
		}, []string{"topic"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "failures_total",
			Help: "Outbox delivery attempts that failed.",
		}, []string{"topic"}),
	}
	reg.MustRegister(m.Published, m.Failures)
	return m
}

func (m *Outbox) Sent(topic string) {
	if m != nil {
		m.Published.WithLabelValues(topic).Inc()
	}
}

func (m *Outbox) Failed(topic string) {
	if m != nil {
		m.Failures.WithLabelValues(topic).Inc()
	}
}

// Consumer tracks analytics consumption. A nil *Consumer is a no-op.
type Consumer struct {
	Events     *prometheus.CounterVec
	Duplicates prometheus.Counter
}

func NewConsumer(reg prometheus.Registerer) *Consumer {
	m := &Consumer{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "events_total",
			Help: "Events processed by type and result.",
		}, []string{"type", "result"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consumer", Name: "duplicates_total",
			Help: "Events skipped because their id was already seen.",
		}),
	}
	reg.MustRegister(m.Events, m.Duplicates)
	return m
}

func (m *Consumer) Processed(eventType, result string) {
	if m != nil {
		m.Events.WithLabelValues(eventType, result).Inc()
	}
}

func (m *Consumer) Duplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
