package huevec

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with huevec-specific context.
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

// WithWord adds a word field to the logger.
func (l *Logger) WithWord(word string) *Logger {
	return &Logger{
		Logger: l.Logger.With("word", word),
	}
}

// WithRevision adds a revision field to the logger.
func (l *Logger) WithRevision(revision string) *Logger {
	return &Logger{
		Logger: l.Logger.With("revision", revision),
	}
}

// WithImageID adds an image ID field to the logger.
func (l *Logger) WithImageID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("image_id", id),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogProcess logs a single-image pipeline run.
func (l *Logger) LogProcess(ctx context.Context, imageID, word string, dimension int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "process failed",
			"image_id", imageID,
			"word", word,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "process completed",
			"image_id", imageID,
			"word", word,
			"dimension", dimension,
		)
	}
}

// LogBatch logs a batch pipeline run.
func (l *Logger) LogBatch(ctx context.Context, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch completed with failures",
			"total", count,
			"failed", failed,
			"success", count-failed,
		)
	} else {
		l.InfoContext(ctx, "batch completed",
			"count", count,
		)
	}
}

// LogNearest logs a nearest-words query.
func (l *Logger) LogNearest(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "nearest failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "nearest completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogExport logs a snapshot export.
func (l *Logger) LogExport(ctx context.Context, revision string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "export failed",
			"revision", revision,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "export completed",
			"revision", revision,
		)
	}
}

// LogImport logs a snapshot import.
func (l *Logger) LogImport(ctx context.Context, revision string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "import failed",
			"revision", revision,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "import completed",
			"revision", revision,
		)
	}
}

// LogPublish logs a blob-store publish.
func (l *Logger) LogPublish(ctx context.Context, revision string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "publish failed",
			"revision", revision,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "publish completed",
			"revision", revision,
		)
	}
}

// LogFetch logs a blob-store fetch.
func (l *Logger) LogFetch(ctx context.Context, revision string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "fetch failed",
			"revision", revision,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "fetch completed",
			"revision", revision,
		)
	}
}

// LogFinalize logs a revision finalization.
func (l *Logger) LogFinalize(ctx context.Context, revision string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "finalize failed",
			"revision", revision,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "revision finalized",
			"revision", revision,
		)
	}
}
