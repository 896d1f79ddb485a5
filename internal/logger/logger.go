// Package logger configures the process-wide slog logger: JSON to
// stdout by default, or bridged to an OTLP/gRPC collector when
// OTEL_ENABLED=true.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var programLevel = new(slog.LevelVar)

// Setup builds the service logger and installs it as the slog default.
// The returned shutdown func flushes the OTLP exporter; it is a no-op
// for plain JSON logging.
func Setup(serviceName string) (*slog.Logger, func(context.Context) error) {
	programLevel.Set(levelFromEnv())

	if strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true") {
		log, shutdown, err := setupOTELLogging(context.Background(), serviceName)
		if err == nil {
			return log, shutdown
		}
		fmt.Fprintf(os.Stderr, "Failed to setup OTEL logging, falling back to JSON: %v\n", err)
	}

	log := setupJSONLogging()
	return log, func(context.Context) error { return nil }
}

// SetLevel sets the minimum log level for the logger.
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

func levelFromEnv() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupJSONLogging() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: programLevel})
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func setupOTELLogging(ctx context.Context, serviceName string) (*slog.Logger, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	otelHandler := otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider))
	log := slog.New(&levelHandler{level: programLevel, handler: otelHandler})
	slog.SetDefault(log)

	return log, provider.Shutdown, nil
}

// levelHandler wraps a handler to filter by level.
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}
