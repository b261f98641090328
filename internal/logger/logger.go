package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity levels.
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
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
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

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the interface for all logger implementations.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// WriterLogger writes formatted lines to an io.Writer.
type WriterLogger struct {
	writer io.Writer
	level  Level
	fields []Field
	mu     *sync.Mutex
}

// New creates a logger writing to the given writer.
func New(w io.Writer, level Level) *WriterLogger {
	return &WriterLogger{writer: w, level: level, mu: &sync.Mutex{}}
}

// NewStdout creates a logger that writes to stdout.
func NewStdout(level Level) *WriterLogger {
	return New(os.Stdout, level)
}

func (l *WriterLogger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	allFields := append(append([]Field(nil), l.fields...), fields...)

	fieldStr := ""
	for _, f := range allFields {
		fieldStr += fmt.Sprintf(" %s=%v", f.Key, f.Value)
	}

	fmt.Fprintf(l.writer, "[%s] %s: %s%s\n", timestamp, level.String(), msg, fieldStr)
}

func (l *WriterLogger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields...) }
func (l *WriterLogger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields...) }
func (l *WriterLogger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields...) }
func (l *WriterLogger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields...) }

func (l *WriterLogger) WithFields(fields ...Field) Logger {
	return &WriterLogger{
		writer: l.writer,
		level:  l.level,
		fields: append(append([]Field(nil), l.fields...), fields...),
		mu:     l.mu,
	}
}

// FileLogger logs to an append-only file.
type FileLogger struct {
	*WriterLogger
	file *os.File
}

// NewFile creates a logger that appends to the file at path.
func NewFile(path string, level Level) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &FileLogger{WriterLogger: New(file, level), file: file}, nil
}

// Close closes the log file.
func (l *FileLogger) Close() error {
	return l.file.Close()
}

// MultiLogger composes multiple loggers together.
type MultiLogger struct {
	loggers []Logger
	fields  []Field
}

// NewMulti creates a logger that writes to multiple destinations.
func NewMulti(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Debug(msg string, fields ...Field) {
	for _, l := range m.loggers {
		l.Debug(msg, append(m.fields, fields...)...)
	}
}

func (m *MultiLogger) Info(msg string, fields ...Field) {
	for _, l := range m.loggers {
		l.Info(msg, append(m.fields, fields...)...)
	}
}

func (m *MultiLogger) Warn(msg string, fields ...Field) {
	for _, l := range m.loggers {
		l.Warn(msg, append(m.fields, fields...)...)
	}
}

func (m *MultiLogger) Error(msg string, fields ...Field) {
	for _, l := range m.loggers {
		l.Error(msg, append(m.fields, fields...)...)
	}
}

func (m *MultiLogger) WithFields(fields ...Field) Logger {
	newLoggers := make([]Logger, len(m.loggers))
	copy(newLoggers, m.loggers)
	return &MultiLogger{loggers: newLoggers, fields: append(m.fields, fields...)}
}

// NoopLogger discards everything.
type NoopLogger struct{}

func NewNoop() *NoopLogger { return &NoopLogger{} }

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
func (n *NoopLogger) WithFields(fields ...Field) Logger { return n }
