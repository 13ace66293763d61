// Package logging provides leveled, component-scoped console logging for the
// task store and its surfaces. Output is rendered by charmbracelet/log.
package logging

import (
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Format selects the line format.
type Format string

const (
	FormatText   Format = "text"
	FormatJSON   Format = "json"
	FormatLogfmt Format = "logfmt"
)

// Logger provides structured logging to stdout.
type Logger struct {
	base      *log.Logger
	component string
}

// New creates a new Logger writing text lines to stdout at INFO.
func New() *Logger {
	return &Logger{
		base: log.NewWithOptions(os.Stdout, log.Options{
			Level:           log.InfoLevel,
			Formatter:       log.TextFormatter,
			ReportTimestamp: true,
			TimeFormat:      "2006-01-02T15:04:05.000Z07:00",
		}),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		base:      l.base.WithPrefix(component),
		component: component,
	}
}

// Component returns the component name, if any.
func (l *Logger) Component() string {
	return l.component
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.base.SetLevel(toCharm(level))
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

// SetFormat sets the line format.
func (l *Logger) SetFormat(f Format) {
	switch f {
	case FormatJSON:
		l.base.SetFormatter(log.JSONFormatter)
	case FormatLogfmt:
		l.base.SetFormatter(log.LogfmtFormatter)
	default:
		l.base.SetFormatter(log.TextFormatter)
	}
}

// ParseLevel maps a config string to a Level. Unknown values yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func toCharm(level Level) log.Level {
	switch level {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.base.Debug(msg, keyvals(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.base.Info(msg, keyvals(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.base.Warn(msg, keyvals(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.base.Error(msg, keyvals(fields)...)
}

// keyvals flattens the first field map into sorted key/value pairs.
func keyvals(fields []map[string]any) []any {
	if len(fields) == 0 || len(fields[0]) == 0 {
		return nil
	}
	m := fields[0]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		out = append(out, k, m[k])
	}
	return out
}

// --- Task lifecycle ---

// TaskCreated logs a committed creation.
func (l *Logger) TaskCreated(id string, priority int) {
	l.Info("task_created", map[string]any{
		"task":     id,
		"priority": priority,
	})
}

// TaskCompleted logs a committed completion.
func (l *Logger) TaskCompleted(id string) {
	l.Info("task_completed", map[string]any{
		"task": id,
	})
}

// TaskDeleted logs a committed deletion.
func (l *Logger) TaskDeleted(id string) {
	l.Info("task_deleted", map[string]any{
		"task": id,
	})
}

// TaskUpdated logs a committed field update.
func (l *Logger) TaskUpdated(id string, fields []string) {
	l.Debug("task_updated", map[string]any{
		"task":   id,
		"fields": strings.Join(fields, ","),
	})
}

// NotifyFailed logs a notifier that rejected an event. State is already
// committed when this is called.
func (l *Logger) NotifyFailed(event, id string, err error) {
	l.Warn("notify_failed", map[string]any{
		"event": event,
		"task":  id,
		"error": err.Error(),
	})
}

// --- Dispatch ---

// RequestHandled logs a dispatched request.
func (l *Logger) RequestHandled(method, caller string, duration time.Duration, err error) {
	fields := map[string]any{
		"method":   method,
		"caller":   caller,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("request_failed", fields)
		return
	}
	l.Debug("request", fields)
}

// Unauthorized logs a rejected caller.
func (l *Logger) Unauthorized(method, reason string) {
	l.Warn("unauthorized", map[string]any{
		"method": method,
		"reason": reason,
	})
}
