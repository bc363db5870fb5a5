package rowgo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with rowgo-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithRowID adds a row_id field to the logger.
func (l *Logger) WithRowID(id uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("row_id", id),
	}
}

// WithIndex adds an index name field to the logger.
func (l *Logger) WithIndex(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", name),
	}
}

// WithTable adds a table name field to the logger.
func (l *Logger) WithTable(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", name),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"row_id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"row_id", id,
		)
	}
}

// LogUpdate logs an update operation.
func (l *Logger) LogUpdate(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "update failed",
			"row_id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "update completed",
			"row_id", id,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"row_id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"row_id", id,
		)
	}
}

// LogQuery logs a query execution.
func (l *Logger) LogQuery(ctx context.Context, predicate string, rowsReturned int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"predicate", predicate,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"predicate", predicate,
			"rows", rowsReturned,
		)
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, filename string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"filename", filename,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"filename", filename,
		)
	}
}

// LogRecovery logs a WAL recovery operation.
func (l *Logger) LogRecovery(ctx context.Context, entriesReplayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "WAL recovery failed",
			"entries_replayed", entriesReplayed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "WAL recovery completed",
			"entries_replayed", entriesReplayed,
		)
	}
}
