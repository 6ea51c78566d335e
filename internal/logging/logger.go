package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a structured logger. Production JSON output is the
// default; development switches to the console encoder.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"

	if level != "" {
		atomic, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, NewOperationError("logging.parse_level", "", err)
		}
		cfg.Level = atomic
	}
	return cfg.Build()
}

// WithOperation enriches the logger with the operation name and, when known,
// the comparison pass it belongs to.
func WithOperation(logger *zap.Logger, operation, passID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if passID != "" {
		fields = append(fields, zap.String("pass_id", passID))
	}
	return logger.With(fields...)
}
