// Package logger carries pmemkit's structured logging: a thin slog wrapper
// with consistent field names for the transaction, allocator and recovery
// paths. Libraries default to a discarding logger; pmctl enables output.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// EnvLogAlloc enables per-allocation debug logging when set to any value.
const EnvLogAlloc = "PMEMKIT_LOG_ALLOC"

// LogAlloc reports whether per-allocation logging was requested.
var LogAlloc = os.Getenv(EnvLogAlloc) != ""

// Logger wraps slog.Logger with pmemkit-specific helpers.
type Logger struct {
	*slog.Logger
}

// New creates a Logger with the given handler.
// A nil handler yields a text handler on stderr at info level.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// Noop returns a Logger that discards everything.
func Noop() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// Wrap adapts a caller-provided *slog.Logger. nil maps to Noop.
func Wrap(l *slog.Logger) *Logger {
	if l == nil {
		return Noop()
	}
	return &Logger{Logger: l}
}

// Options configures Init.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	File    string     // Log file; empty means stderr
	Level   slog.Level // Minimum level. Default: LevelInfo
	JSON    bool       // JSON instead of text output
}

// Init builds a Logger from opts. The returned closer releases the log file.
func Init(opts Options) (*Logger, func() error, error) {
	nop := func() error { return nil }
	if !opts.Enabled {
		return Noop(), nop, nil
	}

	var w io.Writer = os.Stderr
	closer := nop
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w = f
		closer = f.Close
	}

	ho := &slog.HandlerOptions{Level: opts.Level}
	if opts.JSON {
		return New(slog.NewJSONHandler(w, ho)), closer, nil
	}
	return New(slog.NewTextHandler(w, ho)), closer, nil
}

// WithPool tags every record with the pool identity.
func (l *Logger) WithPool(id string) *Logger {
	return &Logger{Logger: l.Logger.With("pool", id)}
}

// WithComponent tags every record with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// LogCommit logs the end of a transaction.
func (l *Logger) LogCommit(ctx context.Context, seq uint64, logBytes, frees int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed", "seq", seq, "error", err)
		return
	}
	l.DebugContext(ctx, "commit", "seq", seq, "log_bytes", logBytes, "frees", frees)
}

// LogAbort logs a rolled back transaction.
func (l *Logger) LogAbort(ctx context.Context, seq uint64, entries int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "abort failed", "seq", seq, "error", err)
		return
	}
	l.DebugContext(ctx, "abort", "seq", seq, "entries_undone", entries)
}

// LogRecovery logs undo-log replay at open.
func (l *Logger) LogRecovery(ctx context.Context, seq uint64, entries int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed", "seq", seq, "error", err)
		return
	}
	l.InfoContext(ctx, "recovered interrupted transaction", "seq", seq, "entries_undone", entries)
}

// LogGrow logs heap growth.
func (l *Logger) LogGrow(ctx context.Context, oldEnd, newEnd uint64, remapped bool) {
	l.DebugContext(ctx, "heap grow", "old_end", oldEnd, "new_end", newEnd, "remapped", remapped)
}
