package observability

import (
	"context"
	"slices"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/NagabhushanAdiga/shop-e/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// EventLogger is the structured event hook accepted by services.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

// NewLogger constructs a zap logger emitting Cloud Logging compatible JSON.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevel()
	if err := atomic.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		_ = atomic.UnmarshalText([]byte(defaultLogLevel))
	}

	cfg := zap.Config{
		Level:    atomic,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "message",
			TimeKey:    "timestamp",
			LevelKey:   "severity",
			EncodeTime: zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(strings.ToUpper(level.String()))
			},
			CallerKey:      "caller",
			EncodeCaller:   zapcore.ShortCallerEncoder,
			StacktraceKey:  "stacktrace",
			EncodeDuration: zapcore.MillisDurationEncoder,
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// NewEventLogger adapts zap to the service event hook. The request logger on ctx wins over base
// so events carry request and trace ids; failure events are logged at warn level.
func NewEventLogger(base *zap.Logger) EventLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		if requestctx.HasLogger(ctx) {
			logger = requestctx.Logger(ctx)
		}

		level := zapcore.InfoLevel
		if strings.HasSuffix(event, "failed") || strings.HasSuffix(event, "dropped") {
			level = zapcore.WarnLevel
		}
		ce := logger.Check(level, event)
		if ce == nil {
			return
		}

		keys := lo.Keys(fields)
		slices.Sort(keys)
		zf := make([]zap.Field, 0, len(keys)+1)
		zf = append(zf, zap.String("event", event))
		for _, key := range keys {
			zf = append(zf, zap.Any(key, fields[key]))
		}
		ce.Write(zf...)
	}
}
