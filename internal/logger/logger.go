package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

var (
	Logger       = slog.Default()
	programLevel = new(slog.LevelVar)
	shutdownFunc func(context.Context) error
)

// Counters are incremented for every record at their level, sampled or not
var (
	TotalWarnings atomic.Int64
	TotalErrors   atomic.Int64
)

// Options selects where and how much the process logs
type Options struct {
	Level          string
	ServiceName    string
	OTELEnabled    bool
	WarnSampleRate int // log 1 of every N warnings; <= 1 logs all

	// File, when set, receives a copy of the JSON output and is rotated
	File string

	// Output defaults to stdout
	Output io.Writer
}

// Setup builds the process logger and installs it as the slog default.
// When OTEL setup fails the logger falls back to JSON.
func Setup(ctx context.Context, opts Options) (*slog.Logger, error) {
	level, levelErr := ParseLevel(opts.Level)
	programLevel.Set(level)

	var handler slog.Handler
	if opts.OTELEnabled {
		var err error
		handler, err = setupOTELLogging(ctx, opts.ServiceName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to setup OTEL logging, falling back to JSON: %v\n", err)
			handler = jsonHandler(opts)
		}
	} else {
		handler = jsonHandler(opts)
	}

	handler = &countingHandler{
		handler: handler,
		rate:    opts.WarnSampleRate,
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)

	// an unknown level name is reported but not fatal
	return Logger, levelErr
}

func jsonHandler(opts Options) slog.Handler {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.File != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
		})
	}

	return slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       programLevel,
		ReplaceAttr: replaceLevelNames,
	})
}

func replaceLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	switch a.Value.Any().(slog.Level) {
	case LevelTrace:
		a.Value = slog.StringValue("TRACE")
	case LevelFatal:
		a.Value = slog.StringValue("FATAL")
	}
	return a
}

func setupOTELLogging(ctx context.Context, serviceName string) (slog.Handler, error) {
	if serviceName == "" {
		serviceName = "unknown-service"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	shutdownFunc = loggerProvider.Shutdown

	otelHandler := otelslog.NewHandler(
		serviceName,
		otelslog.WithLoggerProvider(loggerProvider),
	)

	return &levelHandler{
		level:   programLevel,
		handler: otelHandler,
	}, nil
}

// levelHandler wraps a handler to filter by level
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

// countingHandler counts warnings and errors and samples warnings
type countingHandler struct {
	handler slog.Handler
	rate    int
}

func (h *countingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *countingHandler) Handle(ctx context.Context, r slog.Record) error {
	switch {
	case r.Level >= LevelError:
		TotalErrors.Add(1)
	case r.Level >= LevelWarning:
		TotalWarnings.Add(1)
		if !shouldSample(h.rate) {
			return nil
		}
	}
	return h.handler.Handle(ctx, r)
}

func (h *countingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &countingHandler{handler: h.handler.WithAttrs(attrs), rate: h.rate}
}

func (h *countingHandler) WithGroup(name string) slog.Handler {
	return &countingHandler{handler: h.handler.WithGroup(name), rate: h.rate}
}

// shouldSample returns true for 1 out of every rate calls on average
func shouldSample(rate int) bool {
	if rate <= 1 {
		return true
	}
	return rand.IntN(rate) == 0
}

// Shutdown flushes the OTEL exporter; a no-op in JSON mode
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// ParseLevel converts a string level name to slog.Level
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL", "CRITICAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

// Fatal logs at fatal level, flushes OTEL and exits
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}
