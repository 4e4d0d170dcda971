package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New builds a tint-backed slog logger writing to w (stdout when nil).
func New(w io.Writer, level string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// ParseLevel maps debug/info/warn/error onto slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Debug logs a debug event with consistent format
// Format: user_id=... action=... followed by the given key/value pairs
func Debug(userID string, action string, kv ...any) {
	logAction(slog.LevelDebug, userID, action, kv...)
}

// Info logs an info-level action event.
func Info(userID string, action string, kv ...any) {
	logAction(slog.LevelInfo, userID, action, kv...)
}

// Warn logs a warn-level action event.
func Warn(userID string, action string, kv ...any) {
	logAction(slog.LevelWarn, userID, action, kv...)
}

func logAction(level slog.Level, userID, action string, kv ...any) {
	args := append([]any{"user_id", userID, "action", action}, kv...)
	slog.Default().Log(context.Background(), level, action, args...)
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
