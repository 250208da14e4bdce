package logger

import (
	"log/slog"
	"testing"
)

func TestDefaultLogger(t *testing.T) {
	// init() даёт рабочий логгер ещё до вызова Init
	if Log == nil {
		t.Fatal("expected Log initialized by init()")
	}
	Info("message before Init")
}

func TestInitFormats(t *testing.T) {
	for _, format := range []string{"text", "json", "unknown"} {
		Init(format, slog.LevelInfo)
		if Log == nil {
			t.Fatalf("Log is nil after Init(%q)", format)
		}
	}
}

func TestInitLevels(t *testing.T) {
	for _, level := range []slog.Level{
		slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError,
	} {
		Init("text", level)
		if Log == nil {
			t.Fatalf("Log is nil after Init with level %v", level)
		}
	}
}

func TestConvenienceFunctions(t *testing.T) {
	Init("text", slog.LevelDebug)

	Debug("debug", "flag", true)
	Info("info", "key", "value")
	Warn("warn", "count", 10)
	Error("error", "code", 500)
}
