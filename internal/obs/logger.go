// Copyright 2025 James Ross
package obs

import (
	"strings"
	"time"

	"github.com/flyingrobots/go-redis-work-queue/internal/queue"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the JSON logger every role (producer, worker, admin)
// shares. Log timestamps use the same UTC second-precision layout job
// hashes carry, so log lines line up with enqueued_at/started_at/ended_at
// fields when read side by side.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.Encoding = "json"
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(queue.FormatTime(t))
	}
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Field helpers shared across the tree.
func String(k, v string) zap.Field    { return zap.String(k, v) }
func Int(k string, v int) zap.Field   { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field         { return zap.Error(err) }
