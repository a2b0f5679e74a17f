package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nazeru/order-fulfillment/internal/analytics"
	"github.com/nazeru/order-fulfillment/internal/config"
	"github.com/nazeru/order-fulfillment/internal/platform/observability"
	"github.com/nazeru/order-fulfillment/internal/store/postgres"
	"github.com/nazeru/order-fulfillment/pkg/kafka"
	"github.com/nazeru/order-fulfillment/pkg/metrics"
)

const serviceName = "analytics-consumer"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, _, shutdownOtel, err := observability.Setup(ctx, cfg, serviceName)
	if err != nil {
		log.Fatalf("otel setup error: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(sctx)
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("analytics-consumer stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := postgres.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.New(pool).Migrate(connectCtx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	srvMetrics := metrics.NewServerMetrics(reg, "analytics_consumer")
	facts := postgres.NewAnalytics(pool)
	projector := analytics.NewProjector(facts, logger, metrics.NewConsumer(reg))

	client := kafka.NewClient(cfg.KafkaBrokers)
	client.ClientID = serviceName
	client.Username, client.Password = cfg.KafkaUsername, cfg.KafkaPassword

	consumeDone := make(chan error, 1)
	if client.Enabled() {
		consumer, err := kafka.NewConsumer(client, cfg.KafkaDriver, cfg.AnalyticsTopic, cfg.KafkaGroupID, logger)
		if err != nil {
			return err
		}
		defer consumer.Close()
		go func() { consumeDone <- consumer.Consume(ctx, projector.Handle) }()
		logger.Info("consuming",
			zap.String("topic", cfg.AnalyticsTopic),
			zap.String("group", cfg.KafkaGroupID),
			zap.String("driver", cfg.KafkaDriver))
	} else {
		logger.Warn("KAFKA_BROKERS not set, nothing to consume")
		close(consumeDone)
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: routes(pool, facts, reg, srvMetrics, logger), ReadHeaderTimeout: 5 * time.Second}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("analytics-consumer listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	return <-consumeDone
}

func routes(pool *pgxpool.Pool, facts analytics.Reader, reg *prometheus.Registry, m *metrics.ServerMetrics, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		code, body := http.StatusOK, `{"status":"ok"}`
		if err := pool.Ping(r.Context()); err != nil {
			code, body = http.StatusServiceUnavailable, `{"status":"db_error"}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
		m.Requests.WithLabelValues("health", strconv.Itoa(code)).Inc()
		m.LatencyMS.WithLabelValues("health").Observe(float64(time.Since(start).Milliseconds()))
	})
	mux.Handle("GET /metrics", metrics.Handler(reg))
	summary := analytics.SummaryHandler(facts, logger)
	mux.HandleFunc("GET /metrics/orders", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		summary.ServeHTTP(rec, r)
		m.Requests.WithLabelValues("order_summary", strconv.Itoa(rec.status)).Inc()
		m.LatencyMS.WithLabelValues("order_summary").Observe(float64(time.Since(start).Milliseconds()))
	})
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
