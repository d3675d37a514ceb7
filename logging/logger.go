package logging

import (
	"io"
	"log"
	"os"
	"strings"
)

type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

// Logger is a leveled logger writing to stderr. Stdout is reserved for the
// operator console on the client side and for protocol frames on the host.
type Logger struct {
	level     LogLevel
	component string
	logger    *log.Logger
}

func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogDebug
	case "warn", "warning":
		return LogWarn
	case "error":
		return LogError
	default:
		return LogInfo
	}
}

func NewLogger(level string) *Logger {
	return NewLoggerTo(os.Stderr, level)
}

// NewLoggerTo builds a logger writing to w.
func NewLoggerTo(w io.Writer, level string) *Logger {
	return &Logger{
		level:  ParseLevel(level),
		logger: log.New(w, "", log.LstdFlags),
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{level: LogError + 1, logger: log.New(io.Discard, "", 0)}
}

// With returns a logger sharing the same sink whose lines carry component=name.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	c := *l
	c.component = component
	return &c
}

func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) printf(tag, msg string, args ...interface{}) {
	prefix := "[" + tag + "] "
	if l.component != "" {
		prefix += "component=" + l.component + " "
	}
	l.logger.Printf(prefix+msg, args...)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	if l != nil && l.level <= LogDebug {
		l.printf("DEBUG", msg, args...)
	}
}

func (l *Logger) Info(msg string, args ...interface{}) {
	if l != nil && l.level <= LogInfo {
		l.printf("INFO", msg, args...)
	}
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	if l != nil && l.level <= LogWarn {
		l.printf("WARN", msg, args...)
	}
}

func (l *Logger) Error(msg string, args ...interface{}) {
	if l != nil && l.level <= LogError {
		l.printf("ERROR", msg, args...)
	}
}
