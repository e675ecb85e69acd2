// Package logger emits one JSON object per line. The bridge writes to
// stdout where the desktop shell tails it; the CLI keeps stderr so
// progress rendering owns stdout.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	apperrors "github.com/streamgrab/backend/internal/errors"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LogEntry is the wire shape of one log line.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	JobID     string                 `json:"job_id,omitempty"`
	Component string                 `json:"component,omitempty"`
	Error     *ErrorDetails          `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// ErrorDetails carries the taxonomy fields of a pipeline error so log
// consumers can filter on code and category without parsing messages.
type ErrorDetails struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Category   string `json:"category,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// Logger writes leveled entries to a single destination. The zero
// value is not usable; construct with New.
type Logger struct {
	mu        sync.Mutex
	out       io.Writer
	level     Level
	component string
}

var defaultLogger = New(os.Stderr, LevelInfo, "")

// New creates a logger that drops entries below level.
func New(out io.Writer, level Level, component string) *Logger {
	return &Logger{out: out, level: level, component: component}
}

// SetDefault replaces the process-wide logger. Call once at startup,
// before any goroutine logs.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Default returns the process-wide logger.
func Default() *Logger {
	return defaultLogger
}

// WithComponent returns a logger tagging entries with component. The
// destination and level are shared with the receiver.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{out: l.out, level: l.level, component: component}
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.emit(ctx, LevelDebug, msg, nil, first(fields))
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.emit(ctx, LevelInfo, msg, nil, first(fields))
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.emit(ctx, LevelWarn, msg, nil, first(fields))
}

// Error logs msg with the error's taxonomy fields attached. err may be
// nil when the condition has no underlying error value.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.emit(ctx, LevelError, msg, err, first(fields))
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	return fields[0]
}

func (l *Logger) emit(ctx context.Context, level Level, msg string, err error, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		RequestID: apperrors.GetRequestID(ctx),
		JobID:     apperrors.GetJobID(ctx),
		Component: l.component,
		Fields:    fields,
	}
	if level >= LevelError {
		// Skip emit and the exported wrapper to land on the call site.
		entry.Caller = callSite(3)
	}
	if err != nil {
		entry.Error = errorDetail(err, level >= LevelError)
	}

	line, merr := json.Marshal(entry)
	if merr != nil {
		// A field value the encoder rejects must not silence the line.
		entry.Fields = map[string]interface{}{"marshal_error": merr.Error()}
		line, _ = json.Marshal(entry)
	}
	line = append(line, '\n')

	l.mu.Lock()
	l.out.Write(line)
	l.mu.Unlock()
}

func errorDetail(err error, withStack bool) *ErrorDetails {
	d := &ErrorDetails{Message: err.Error()}
	if appErr, ok := err.(*apperrors.AppError); ok {
		d.Code = appErr.Code
		d.Category = string(appErr.Category)
	}
	if withStack {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		d.StackTrace = string(buf[:n])
	}
	return d
}

// callSite returns "pkg/file.go:line" for the frame skip levels up.
func callSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	parts := strings.Split(file, "/")
	if len(parts) > 2 {
		file = strings.Join(parts[len(parts)-2:], "/")
	}
	return fmt.Sprintf("%s:%d", file, line)
}
