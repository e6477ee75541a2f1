package observability

import (
	"context"
	"strings"

	"github.com/railzwaylabs/revshare/internal/config"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Module("observability",
	fx.Provide(NewLogger),
	fx.Provide(NewTracerProvider),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

// NewLogger builds the root logger. Development and debug runs get a
// readable console encoder, everything else JSON with ISO8601 timestamps.
func NewLogger(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	log, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}

func Build(cfg config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))); err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.IsDevelopment() || level == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	log, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return log.With(
		zap.String("app", cfg.AppName),
		zap.String("env", cfg.AppEnv),
	), nil
}
