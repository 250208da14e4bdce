package logger

import (
	"log/slog"
	"os"
)

// Log глобальный логгер приложения
var Log *slog.Logger

func init() {
	// Разумный default до вызова Init (text, info)
	Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Init инициализирует глобальный логгер
// format: "text" или "json" (неизвестный формат = text)
func Init(format string, level slog.Level) {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	Log = slog.New(handler)
	slog.SetDefault(Log)
}

// Debug логирует отладочное сообщение
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

// Info логирует информационное сообщение
func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

// Warn логирует предупреждение
func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

// Error логирует ошибку
func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}
