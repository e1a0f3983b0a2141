package observability

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/certified-builder/api/internal/platform/requestctx"
)

// NewLogger builds the process logger from LOG_LEVEL (default info) and LOG_FORMAT. The
// default json format matches the Cloud Logging structured payload; "console" is meant for
// a terminal.
func NewLogger() (*zap.Logger, error) {
	return newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

func newLogger(levelName, format string) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(strings.TrimSpace(levelName)); err == nil && strings.TrimSpace(levelName) != "" {
		level = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stdout"}

	enc := &cfg.EncoderConfig
	enc.MessageKey = "message"
	enc.TimeKey = "timestamp"
	enc.LevelKey = "severity"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder

	if strings.EqualFold(strings.TrimSpace(format), "console") {
		cfg.Encoding = "console"
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

// WithLogger stores logger on ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// EventLogger turns a zap logger into the event hook the services and jobs accept. Events
// named *.failed, *.error or *.discarded log at warn; the rest at info. Fields are written
// in key order, followed by the trace id of ctx when one is set.
func EventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		zf := make([]zap.Field, 0, len(keys)+1)
		for _, k := range keys {
			zf = append(zf, zap.Any(k, fields[k]))
		}
		if id := requestctx.TraceID(ctx); id != "" {
			zf = append(zf, zap.String("trace_id", id))
		}

		level := zapcore.InfoLevel
		if warns(event) {
			level = zapcore.WarnLevel
		}
		if ce := logger.Check(level, event); ce != nil {
			ce.Write(zf...)
		}
	}
}

func warns(event string) bool {
	_, suffix, found := cutLast(event, ".")
	if !found {
		return false
	}
	switch suffix {
	case "failed", "error", "discarded":
		return true
	}
	return false
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}
