package dedupgo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with dedupgo-specific context.
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

// LogLoad logs the result of restoring persisted state at startup.
func (l *Logger) LogLoad(ctx context.Context, generation uint64, clusters, entries int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "state load failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "state loaded",
			"generation", generation,
			"clusters", clusters,
			"entries", entries,
		)
	}
}

// LogAssign logs an item joining an existing cluster.
func (l *Logger) LogAssign(ctx context.Context, itemID, clusterID string, similarity float64) {
	l.DebugContext(ctx, "item assigned",
		"item_id", itemID,
		"cluster_id", clusterID,
		"centroid_similarity", similarity,
	)
}

// LogNewCluster logs an item founding a new cluster.
func (l *Logger) LogNewCluster(ctx context.Context, itemID, clusterID string) {
	l.DebugContext(ctx, "cluster created",
		"item_id", itemID,
		"cluster_id", clusterID,
	)
}

// LogEmbedFailure logs an embedder failure for one item.
func (l *Logger) LogEmbedFailure(ctx context.Context, itemID string, err error) {
	l.WarnContext(ctx, "embedding failed, item left for retry",
		"item_id", itemID,
		"error", err,
	)
}

// LogCommitFailure logs a failed commit. Successful commits are silent; they
// happen once per item.
func (l *Logger) LogCommitFailure(ctx context.Context, itemID string, err error) {
	l.ErrorContext(ctx, "commit failed, mutation discarded",
		"item_id", itemID,
		"error", err,
	)
}

// LogRun logs a completed ingestion run.
func (l *Logger) LogRun(ctx context.Context, report *RunReport) {
	l.InfoContext(ctx, "run completed",
		"processed", report.Processed,
		"skipped", report.Skipped,
		"assigned", report.Assigned,
		"created", report.Created,
		"failed", report.Failed,
	)
}
