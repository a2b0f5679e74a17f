package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields are the correlation keys shared by every service log line.
type Fields struct {
	OrderID    string
	EventID    string
	Step       string
	Status     string
	DurationMS int64
}

func (f Fields) Zap() []zap.Field {
	out := make([]zap.Field, 0, 5)
	if f.OrderID != "" {
		out = append(out, zap.String("order_id", f.OrderID))
	}
	if f.EventID != "" {
		out = append(out, zap.String("event_id", f.EventID))
	}
	if f.Step != "" {
		out = append(out, zap.String("step", f.Step))
	}
	if f.Status != "" {
		out = append(out, zap.String("status", f.Status))
	}
	if f.DurationMS > 0 {
		out = append(out, zap.Int64("duration_ms", f.DurationMS))
	}
	return out
}

func ParseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// ConsoleCore writes JSON lines to stdout.
func ConsoleCore(level zapcore.Level) zapcore.Core {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(os.Stdout), level)
}

// New builds a service logger on top of the given cores; with no extra cores
// it only writes to stdout.
func New(service string, level zapcore.Level, extra ...zapcore.Core) *zap.Logger {
	cores := append([]zapcore.Core{ConsoleCore(level)}, extra...)
	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", service)),
	)
}
