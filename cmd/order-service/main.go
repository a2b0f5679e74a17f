package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nazeru/order-fulfillment/internal/config"
	"github.com/nazeru/order-fulfillment/internal/events"
	"github.com/nazeru/order-fulfillment/internal/fulfillment"
	"github.com/nazeru/order-fulfillment/internal/httpapi"
	"github.com/nazeru/order-fulfillment/internal/order/domain"
	"github.com/nazeru/order-fulfillment/internal/platform/observability"
	"github.com/nazeru/order-fulfillment/internal/store/postgres"
	"github.com/nazeru/order-fulfillment/pkg/kafka"
	"github.com/nazeru/order-fulfillment/pkg/metrics"
	"github.com/nazeru/order-fulfillment/pkg/outbox"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, tp, shutdownOtel, err := observability.Setup(ctx, cfg, config.ServiceName)
	if err != nil {
		log.Fatalf("otel setup error: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(sctx)
	}()

	if err := run(ctx, cfg, logger, tp); err != nil {
		logger.Error("order-service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, tp trace.TracerProvider) error {
	policy, err := domain.PolicyByName(cfg.TransitionPolicy)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := postgres.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := postgres.New(pool)
	if err := st.Migrate(connectCtx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	client := kafka.NewClient(cfg.KafkaBrokers)
	client.ClientID = config.ServiceName
	client.Username, client.Password = cfg.KafkaUsername, cfg.KafkaPassword
	sender, err := kafka.NewSender(client, cfg.KafkaDriver, tp, logger)
	if err != nil {
		return fmt.Errorf("kafka sender: %w", err)
	}
	defer sender.Close()

	relay := outbox.NewRelay(outbox.PgStore{DB: pool}, sender, logger, metrics.NewOutbox(reg), outbox.RelayConfig{
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.OutboxPollInterval,
	})

	svc := fulfillment.New(st, st, events.NewPublisher(cfg.Topics(), relay),
		fulfillment.WithPolicy(policy),
		fulfillment.WithOrderNumberAttempts(cfg.OrderNumberAttempts),
		fulfillment.WithLogger(logger),
		fulfillment.WithTracer(tp.Tracer("order-fulfillment")),
		fulfillment.WithMetrics(metrics.NewFulfillment(reg)),
	)

	api := httpapi.New(svc, logger, metrics.NewServerMetrics(reg, "order_service"), httpapi.Config{
		RequestTimeout: cfg.RequestTimeout,
		Health:         pool.Ping,
		Gatherer:       reg,
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: api.Router(), ReadHeaderTimeout: 5 * time.Second}

	relayDone := make(chan error, 1)
	go func() { relayDone <- relay.Run(ctx) }()

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("order-service listening",
			zap.String("addr", srv.Addr),
			zap.String("policy", policy.Name()),
			zap.Bool("kafka", client.Enabled()),
			zap.String("kafka_driver", cfg.KafkaDriver))
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

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := <-relayDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
