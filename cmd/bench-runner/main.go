package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/internal/store/postgres"
	"github.com/nazeru/order-fulfillment/pkg/idempotency"
)

type options struct {
	baseURL     string
	databaseURL string
	scenario    string
	productID   string
	userID      string
	stock       int
	total       int
	concurrency int
	quantity    int
	timeout     time.Duration
	output      string
}

func main() {
	var o options
	flag.StringVar(&o.baseURL, "base-url", getenv("ORDER_BASE_URL", "http://localhost:8080"), "order-service base URL")
	flag.StringVar(&o.databaseURL, "database-url", getenv("DATABASE_URL", ""), "seed the product and user directly when set")
	flag.StringVar(&o.scenario, "scenario", "contention", "scenario to run: contention|lifecycle")
	flag.StringVar(&o.productID, "product-id", "", "product to order (a new one is seeded when empty)")
	flag.StringVar(&o.userID, "user-id", "", "ordering user (a new one is seeded when empty)")
	flag.IntVar(&o.stock, "stock", 100, "stock to seed for the product")
	flag.IntVar(&o.total, "total", 1000, "total number of orders to attempt")
	flag.IntVar(&o.concurrency, "concurrency", 50, "number of concurrent workers")
	flag.IntVar(&o.quantity, "quantity", 1, "quantity per order")
	flag.DurationVar(&o.timeout, "timeout", 10*time.Second, "per-request timeout")
	flag.StringVar(&o.output, "output", "", "optional output path for JSON result")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(o options) error {
	if o.total <= 0 || o.concurrency <= 0 || o.quantity <= 0 {
		return fmt.Errorf("total, concurrency and quantity must be > 0")
	}
	if o.scenario != "contention" && o.scenario != "lifecycle" {
		return fmt.Errorf("unknown scenario: %s", o.scenario)
	}

	ctx := context.Background()
	var (
		st      *postgres.Store
		initial = -1
	)
	if o.databaseURL != "" {
		pool, err := postgres.Connect(ctx, o.databaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		st = postgres.New(pool)
		if err := seed(ctx, st, &o); err != nil {
			return err
		}
		pid, err := uuid.Parse(o.productID)
		if err != nil {
			return fmt.Errorf("product-id: %w", err)
		}
		p, err := st.Product(ctx, pid)
		if err != nil {
			return err
		}
		initial = p.StockQuantity
	}
	if o.productID == "" || o.userID == "" {
		return fmt.Errorf("product-id and user-id are required without -database-url")
	}

	tasks := make(chan struct{})
	var wg sync.WaitGroup
	s := newStats()
	client := &http.Client{}

	start := time.Now()
	for i := 0; i < o.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range tasks {
				runOne(client, o, s)
			}
		}()
	}
	for i := 0; i < o.total; i++ {
		tasks <- struct{}{}
	}
	close(tasks)
	wg.Wait()
	duration := time.Since(start)

	result := summarize(o, s, duration)
	if st != nil {
		result.InitialStock = initial
		p, err := st.Product(ctx, uuid.MustParse(o.productID))
		if err != nil {
			return err
		}
		final := p.StockQuantity
		result.FinalStock = &final
		oversold := final < 0 || (o.scenario == "contention" && s.success*o.quantity+final != initial)
		result.Oversold = &oversold
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if o.output != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.output, data, 0o644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func seed(ctx context.Context, st *postgres.Store, o *options) error {
	if o.userID == "" {
		u := domain.User{ID: uuid.New(), Name: "bench", Email: "bench+" + uuid.NewString()[:8] + "@example.com"}
		if err := st.UpsertUser(ctx, u); err != nil {
			return fmt.Errorf("seed user: %w", err)
		}
		o.userID = u.ID.String()
	}
	if o.productID == "" {
		p := domain.Product{
			ID:            uuid.New(),
			Name:          "bench widget",
			SKU:           "BENCH-" + uuid.NewString()[:8],
			Price:         decimal.RequireFromString("9.99"),
			StockQuantity: o.stock,
			Status:        domain.ProductStatusActive,
		}
		if err := st.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product: %w", err)
		}
		o.productID = p.ID.String()
	}
	return nil
}

// runOne creates one order; the lifecycle scenario also confirms and cancels
// it, which returns the stock.
func runOne(client *http.Client, o options, s *stats) {
	begin := time.Now()
	body := map[string]any{
		"user_id":         o.userID,
		"items":           []map[string]any{{"product_id": o.productID, "quantity": o.quantity}},
		"tax_amount":      "0.80",
		"shipping_amount": "4.99",
	}
	code, resp, err := call(client, o, http.MethodPost, "/orders", body, true)
	s.record(code, time.Since(begin), err)
	if err != nil || o.scenario != "lifecycle" {
		return
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &created); err != nil || created.ID == "" {
		return
	}
	steps := []struct {
		method, path string
		body         any
	}{
		{http.MethodPut, "/orders/" + created.ID + "/status", map[string]string{"status": "CONFIRMED"}},
		{http.MethodPost, "/orders/" + created.ID + "/cancel", map[string]string{"reason": "bench"}},
	}
	for _, step := range steps {
		begin = time.Now()
		code, _, err = call(client, o, step.method, step.path, step.body, false)
		s.record(code, time.Since(begin), err)
		if err != nil {
			return
		}
	}
}

func call(client *http.Client, o options, method, path string, payload any, idempotent bool) (int, []byte, error) {
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(o.baseURL, "/")+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotent {
		req.Header.Set(idempotency.Header, uuid.NewString())
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, body, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.StatusCode, body, nil
}

func summarize(o options, s *stats, duration time.Duration) benchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	avg, minMs, maxMs := 0.0, 0.0, 0.0
	if n := len(s.latenciesMs); n > 0 {
		avg = float64(s.total.Milliseconds()) / float64(n)
		minMs = float64(s.minLatency.Milliseconds())
		maxMs = float64(s.maxLatency.Milliseconds())
	}
	p50, p90, p95, p99 := calcPercentiles(s.latenciesMs)
	return benchResult{
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		BaseURL:            o.baseURL,
		Scenario:           o.scenario,
		ProductID:          o.productID,
		Requests:           o.total,
		Concurrency:        o.concurrency,
		QuantityPerOrder:   o.quantity,
		SuccessfulRequests: s.success,
		StockRejections:    s.rejected,
		ErrorRequests:      s.errors,
		DurationSeconds:    duration.Seconds(),
		AvgLatencyMs:       avg,
		MinLatencyMs:       minMs,
		MaxLatencyMs:       maxMs,
		P50LatencyMs:       p50,
		P90LatencyMs:       p90,
		P95LatencyMs:       p95,
		P99LatencyMs:       p99,
		ThroughputRPS:      float64(s.success) / duration.Seconds(),
		StatusCounts:       s.statusCounts,
		ErrorClasses:       s.errorClasses,
		FirstError:         s.firstError,
	}
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
