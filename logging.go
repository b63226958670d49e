package querystate

import (
	"context"
	"log/slog"
	"time"
)

// SyncLogEvent describes one sync pass for logging.
type SyncLogEvent struct {
	BridgeID  string
	Direction Direction
	Keys      []string
	// Skipped names the reason a pass wrote nothing ("guard", "unchanged").
	Skipped  string
	Duration time.Duration
	Err      error
}

// SyncLogger records sync passes.
type SyncLogger interface {
	LogSync(SyncLogEvent)
}

// SyncLoggerFunc adapts a function to SyncLogger.
type SyncLoggerFunc func(SyncLogEvent)

// LogSync implements SyncLogger.
func (f SyncLoggerFunc) LogSync(event SyncLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopSyncLogger struct{}

func (noopSyncLogger) LogSync(SyncLogEvent) {}

type slogSyncLogger struct {
	logger *slog.Logger
}

// NewSlogLogger logs sync passes through logger. Failed passes are logged at
// error level, skipped passes at debug and writes at info.
func NewSlogLogger(logger *slog.Logger) SyncLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return slogSyncLogger{logger: logger}
}

func (l slogSyncLogger) LogSync(event SyncLogEvent) {
	attrs := []slog.Attr{
		slog.String("bridge", event.BridgeID),
		slog.String("direction", string(event.Direction)),
		slog.Any("keys", event.Keys),
		slog.Duration("duration", event.Duration),
	}
	ctx := context.Background()
	switch {
	case event.Err != nil:
		attrs = append(attrs, slog.String("error", event.Err.Error()))
		l.logger.LogAttrs(ctx, slog.LevelError, "querystate sync failed", attrs...)
	case event.Skipped != "":
		attrs = append(attrs, slog.String("skipped", event.Skipped))
		l.logger.LogAttrs(ctx, slog.LevelDebug, "querystate sync skipped", attrs...)
	default:
		l.logger.LogAttrs(ctx, slog.LevelInfo, "querystate sync", attrs...)
	}
}
