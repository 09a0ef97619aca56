package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var (
	levelNames = map[LogLevel]string{
		DEBUG:  "DEBUG",
		INFO:   "INFO",
		WARN:   "WARN",
		ERROR:  "ERROR",
		SILENT: "SILENT",
	}

	levelColors = map[slog.Level]string{
		slog.LevelDebug: "\033[36m", // Cyan
		slog.LevelInfo:  "\033[32m", // Green
		slog.LevelWarn:  "\033[33m", // Yellow
		slog.LevelError: "\033[31m", // Red
	}

	resetColor = "\033[0m"
)

// levelSilent sits above every level the logger emits
const levelSilent = slog.LevelError + 8

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case INFO:
		return slog.LevelInfo
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return levelSilent
	}
}

// Logger provides leveled logging with module support on top of slog
type Logger struct {
	level *slog.LevelVar
	cur   LogLevel
	mu    sync.Mutex
	slog  *slog.Logger
}

var defaultLogger *Logger
var once sync.Once

// Init initializes the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
	})
}

// InitJSON initializes the global logger with JSON output
func InitJSON(level LogLevel, output io.Writer) {
	once.Do(func() {
		defaultLogger = NewJSON(level, output)
	})
}

// New creates a Logger writing bracketed text lines:
// 2006/01/02 15:04:05.000000 [INFO] [Module] message key=value
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	lv := new(slog.LevelVar)
	lv.Set(level.slogLevel())

	h := &textHandler{
		mu:       &sync.Mutex{},
		w:        output,
		level:    lv,
		useColor: useColor,
	}
	return &Logger{level: lv, cur: level, slog: slog.New(h)}
}

// NewJSON creates a Logger emitting one JSON object per line
func NewJSON(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}
	lv := new(slog.LevelVar)
	lv.Set(level.slogLevel())
	h := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: lv})
	return &Logger{level: lv, cur: level, slog: slog.New(h)}
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cur = level
	l.level.Set(level.slogLevel())
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

func (l *Logger) log(level slog.Level, module string, format string, args ...interface{}) {
	ctx := context.Background()
	if !l.slog.Enabled(ctx, level) {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if module != "" {
		l.slog.Log(ctx, level, msg, slog.String("module", module))
		return
	}
	l.slog.Log(ctx, level, msg)
}

// Debug logs a debug message
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.log(slog.LevelDebug, module, format, args...)
}

// Info logs an info message
func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.log(slog.LevelInfo, module, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.log(slog.LevelWarn, module, format, args...)
}

// Error logs an error message
func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.log(slog.LevelError, module, format, args...)
}

// textHandler renders records in the bracketed module format
type textHandler struct {
	mu       *sync.Mutex
	w        io.Writer
	level    slog.Leveler
	useColor bool
	attrs    []slog.Attr
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	var module string
	var extra bytes.Buffer

	appendAttr := func(a slog.Attr) bool {
		if a.Key == "module" {
			module = a.Value.String()
			return true
		}
		fmt.Fprintf(&extra, " %s=%v", a.Key, a.Value.Any())
		return true
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(appendAttr)

	name := r.Level.String()
	prefix := "[" + name + "]"
	if h.useColor {
		if color, ok := levelColors[r.Level]; ok {
			prefix = color + prefix + resetColor
		}
	}
	if module != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, module)
	}

	var buf bytes.Buffer
	buf.WriteString(r.Time.Format("2006/01/02 15:04:05.000000"))
	buf.WriteByte(' ')
	buf.WriteString(prefix)
	buf.WriteByte(' ')
	buf.WriteString(r.Message)
	buf.Write(extra.Bytes())
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// WithGroup is a no-op: the text format is flat
func (h *textHandler) WithGroup(string) slog.Handler {
	return h
}

// Global logger functions (use default logger)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// GetLevel returns the global log level
func GetLevel() LogLevel {
	if defaultLogger != nil {
		return defaultLogger.GetLevel()
	}
	return INFO
}

// Default returns the global logger, or nil before Init
func Default() *Logger {
	return defaultLogger
}

// Debug logs a debug message using the global logger
func Debug(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug(module, format, args...)
	}
}

// Info logs an info message using the global logger
func Info(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info(module, format, args...)
	}
}

// Warn logs a warning message using the global logger
func Warn(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn(module, format, args...)
	}
}

// Error logs an error message using the global logger
func Error(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error(module, format, args...)
	}
}

// ParseLevel parses a log level string
func ParseLevel(s string) (LogLevel, error) {
	switch s {
	case "debug", "DEBUG":
		return DEBUG, nil
	case "info", "INFO":
		return INFO, nil
	case "warn", "WARN", "warning", "WARNING":
		return WARN, nil
	case "error", "ERROR":
		return ERROR, nil
	case "silent", "SILENT", "none", "NONE":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}
