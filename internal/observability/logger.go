// Package observability provides structured logging, Prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/tokenmarket/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production zap logger at the given level ("debug", "info", "warn", "error").
func NewLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(parsed)
	}
	return config.Build()
}

// ZapOperationLogger writes ledger operation logs through zap.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger; nil falls back to a no-op logger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

// LogOperation logs successes at info, business rejections at warn and everything else at error.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("subject_id", entry.SubjectID),
		zap.Int64("units", entry.Units),
		zap.String("amount", entry.Amount.String()),
		zap.String("status", entry.Status),
		zap.Duration("duration", entry.Duration),
		zap.Time("occurred_at", entry.OccurredAt),
	}
	switch {
	case entry.Error == nil:
		operationLogger.logger.Info("ledger operation", fields...)
	case ledger.IsBusinessRule(entry.Error):
		operationLogger.logger.Warn("ledger operation rejected", append(fields, zap.Error(entry.Error))...)
	default:
		operationLogger.logger.Error("ledger operation failed", append(fields, zap.Error(entry.Error))...)
	}
}
