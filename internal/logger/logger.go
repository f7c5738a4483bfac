package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes leveled, timestamped lines for one component. Safe for concurrent use.
type Logger struct {
	component string
	out       *log.Logger
	closer    io.Closer
	path      string
	debug     bool
	mu        sync.Mutex
}

// LogLevel tags each entry.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelRisk   LogLevel = "RISK"
	LogLevelStatus LogLevel = "STATUS"
)

const timestampLayout = "2006-01-02 15:04:05"

// New returns a logger writing to w.
func New(w io.Writer, component string) *Logger {
	return &Logger{
		component: component,
		out:       log.New(w, "", 0),
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, "discard")
}

// Rotation bounds the size and retention of file logs.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultRotation keeps ten compressed 100MB files for up to 30 days.
func DefaultRotation() Rotation {
	return Rotation{MaxSizeMB: 100, MaxBackups: 10, MaxAgeDays: 30, Compress: true}
}

// NewFileLogger appends to <dir>/<name>_<date>.log, mirrored to stdout, and writes a
// session header. The file is rotated once it exceeds rot.MaxSizeMB.
func NewFileLogger(dir, name string, rot Rotation) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", name, time.Now().Format("2006-01-02")))
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
		LocalTime:  true,
	}

	l := New(io.MultiWriter(file, os.Stdout), name)
	l.closer = file
	l.path = path
	l.out.Printf("==== RISK ENGINE SESSION STARTED %s ====", time.Now().Format(timestampLayout))
	return l, nil
}

// With returns a logger for another component sharing the same sink.
func (l *Logger) With(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		component: component,
		out:       l.out,
		debug:     l.debug,
	}
}

// SetDebug enables DEBUG entries.
func (l *Logger) SetDebug(enabled bool) {
	l.mu.Lock()
	l.debug = enabled
	l.mu.Unlock()
}

func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level == LogLevelDebug && !l.debug {
		return
	}
	message := fmt.Sprintf(format, args...)
	l.out.Printf("[%s] [%s] [%s] %s", time.Now().Format(timestampLayout), level, l.component, message)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Risk logs a risk-state transition: trips, re-arms, stops and resumes.
func (l *Logger) Risk(format string, args ...interface{}) {
	l.Log(LogLevelRisk, format, args...)
}

func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

func (l *Logger) LogDebugOnly(format string, args ...interface{}) {
	l.Log(LogLevelDebug, format, args...)
}

func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

func (l *Logger) LogWarning(context string, message string, args ...interface{}) {
	l.Warning("%s: %s", context, fmt.Sprintf(message, args...))
}

// Path is the log file path, empty for writer-backed loggers.
func (l *Logger) Path() string {
	return l.path
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer == nil {
		return nil
	}
	l.out.Printf("==== RISK ENGINE SESSION ENDED %s ====", time.Now().Format(timestampLayout))
	err := l.closer.Close()
	l.closer = nil
	return err
}
