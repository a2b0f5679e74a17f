package main

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"
)

type benchResult struct {
	Timestamp          string         `json:"timestamp"`
	BaseURL            string         `json:"base_url"`
	Scenario           string         `json:"scenario"`
	ProductID          string         `json:"product_id"`
	InitialStock       int            `json:"initial_stock,omitempty"`
	Requests           int            `json:"requests"`
	Concurrency        int            `json:"concurrency"`
	QuantityPerOrder   int            `json:"quantity_per_order"`
	SuccessfulRequests int            `json:"successful_requests"`
	StockRejections    int            `json:"stock_rejections"`
	ErrorRequests      int            `json:"error_requests"`
	DurationSeconds    float64        `json:"duration_seconds"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	MinLatencyMs       float64        `json:"min_latency_ms"`
	MaxLatencyMs       float64        `json:"max_latency_ms"`
	P50LatencyMs       float64        `json:"p50_latency_ms"`
	P90LatencyMs       float64        `json:"p90_latency_ms"`
	P95LatencyMs       float64        `json:"p95_latency_ms"`
	P99LatencyMs       float64        `json:"p99_latency_ms"`
	ThroughputRPS      float64        `json:"throughput_rps"`
	StatusCounts       map[string]int `json:"status_counts"`
	ErrorClasses       map[string]int `json:"error_classes"`
	FirstError         string         `json:"first_error,omitempty"`
	FinalStock         *int           `json:"final_stock,omitempty"`
	Oversold           *bool          `json:"oversold,omitempty"`
}

type stats struct {
	mu           sync.Mutex
	success      int
	rejected     int
	errors       int
	total        time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	latenciesMs  []float64
	statusCounts map[string]int
	errorClasses map[string]int
	firstError   string
}

func newStats() *stats {
	return &stats{
		statusCounts: make(map[string]int),
		errorClasses: make(map[string]int),
	}
}

// record counts one request. Stock rejections are an expected outcome and
// keep their latency.
func (s *stats) record(status int, latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statusCounts[strconv.Itoa(status)]++
	class := classify(status, err)
	switch class {
	case "":
		s.success++
	case classStock:
		s.rejected++
	default:
		s.errors++
		s.errorClasses[class]++
		if err != nil && s.firstError == "" {
			s.firstError = err.Error()
		}
		return
	}
	s.total += latency
	if s.minLatency == 0 || latency < s.minLatency {
		s.minLatency = latency
	}
	if latency > s.maxLatency {
		s.maxLatency = latency
	}
	s.latenciesMs = append(s.latenciesMs, float64(latency.Milliseconds()))
}

const classStock = "stock_rejected"

func classify(status int, err error) string {
	switch {
	case status == 0 && err != nil:
		return "transport"
	case status >= 200 && status < 300:
		return ""
	case status == 409:
		return classStock
	case status == 503:
		return "transient"
	case status >= 500:
		return "http_5xx"
	default:
		return "http_4xx"
	}
}

func calcPercentiles(values []float64) (float64, float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sort.Float64s(values)
	return percentile(values, 0.50), percentile(values, 0.90), percentile(values, 0.95), percentile(values, 0.99)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
