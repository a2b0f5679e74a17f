package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ServiceName    = "order-service"
	ServiceVersion = "0.1.0"
)

const (
	LogsPath      = "/otlp/v1/logs"
	TracesPath    = "/otlp/v1/traces"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

type Config struct {
	Port           string
	DatabaseURL    string
	RequestTimeout time.Duration
	LogLevel       string

	KafkaBrokers   string
	KafkaDriver    string // kafka-go | franz
	KafkaGroupID   string
	KafkaUsername  string
	KafkaPassword  string
	EventsTopic    string
	AnalyticsTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	TransitionPolicy    string
	OrderNumberAttempts int

	OtelEndpoint   string
	OtelAuthHeader string
}

func (c *Config) Topics() []string {
	return []string{c.EventsTopic, c.AnalyticsTopic}
}

// LoadConfig reads the environment, after loading a .env file from the
// working directory when there is one.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	var errs []error
	intEnv := func(k string, def int) int {
		v, err := strconv.Atoi(getenv(k, strconv.Itoa(def)))
		if err != nil || v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive integer", k))
			return def
		}
		return v
	}

	cfg := &Config{
		Port:                getenv("PORT", "8080"),
		DatabaseURL:         db,
		RequestTimeout:      time.Duration(intEnv("REQUEST_TIMEOUT_MS", 2500)) * time.Millisecond,
		LogLevel:            getenv("LOG_LEVEL", "info"),
		KafkaBrokers:        getenv("KAFKA_BROKERS", ""),
		KafkaDriver:         strings.ToLower(getenv("KAFKA_DRIVER", "kafka-go")),
		KafkaGroupID:        getenv("KAFKA_GROUP_ID", "analytics-service"),
		KafkaUsername:       getenv("KAFKA_USERNAME", ""),
		KafkaPassword:       getenv("KAFKA_PASSWORD", ""),
		EventsTopic:         getenv("ORDER_EVENTS_TOPIC", "order-events"),
		AnalyticsTopic:      getenv("ORDER_ANALYTICS_TOPIC", "order-analytics"),
		OutboxPollInterval:  time.Duration(intEnv("OUTBOX_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		OutboxBatchSize:     intEnv("OUTBOX_BATCH_SIZE", 100),
		TransitionPolicy:    getenv("ORDER_TRANSITION_POLICY", "strict"),
		OrderNumberAttempts: intEnv("ORDER_NUMBER_ATTEMPTS", 3),
		OtelEndpoint:        getenv("OTEL_ENDPOINT", ""),
		OtelAuthHeader:      getenv("OTEL_AUTH_HEADER", ""),
	}
	switch cfg.KafkaDriver {
	case "kafka-go", "franz":
	default:
		errs = append(errs, fmt.Errorf("KAFKA_DRIVER must be kafka-go or franz, got %q", cfg.KafkaDriver))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
