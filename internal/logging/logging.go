// Package logging builds the structured slog.Logger every OMS component
// logs through, following common/logger.NewLogger's shape: JSON handler,
// level from LOG_LEVEL, service name attached to every record.
package logging

import (
	"log/slog"
	"os"
)

// New creates a structured logger with JSON output for serviceName.
func New(serviceName string) *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("service", serviceName))
}

func parseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Session returns a child logger tagged with the owning session id.
func Session(base *slog.Logger, sessionID string) *slog.Logger {
	return base.With(slog.String("session_id", sessionID))
}

// Order returns a child logger tagged with order identity.
func Order(base *slog.Logger, brokerID string, orderID int64) *slog.Logger {
	return base.With(slog.String("broker_id", brokerID), slog.Int64("order_id", orderID))
}
