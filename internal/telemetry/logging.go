package telemetry

import (
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// LogLevel определяет уровень логирования из LOG_LEVEL
// (DEBUG, INFO, WARN, ERROR; регистр не важен). По умолчанию INFO.
func LogLevel() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер процесса service.
//
// Формат вывода определяется переменной LOG_FORMAT:
//   - "json" (по умолчанию) — JSON формат для production
//   - "text" — человекочитаемый формат для разработки
func SetupLogger(service string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     LogLevel(),
		AddSource: LogLevel() == slog.LevelDebug,
	}

	format := os.Getenv("LOG_FORMAT")
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)

	return logger
}

// WithTaskID возвращает логгер с добавленным task_id.
func WithTaskID(logger *slog.Logger, taskID int64) *slog.Logger {
	return logger.With("task_id", taskID)
}

// WithSignalID возвращает логгер с добавленным signal_id.
func WithSignalID(logger *slog.Logger, signalID uuid.UUID) *slog.Logger {
	return logger.With("signal_id", signalID.String())
}

// WithComponent возвращает логгер с именем компонента.
func WithComponent(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}
