// Package logger is the process-wide log sink: leveled, timestamped lines
// appended to a single file. An empty path disables output entirely, which is
// the default for library consumers that never call Init.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level orders log severities; messages below the configured level are
// dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelNone drops everything.
	LevelNone
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
	case LevelNone:
		return "NONE"
	}
	return "UNKNOWN"
}

// ParseLevel maps a config string to a Level, defaulting to info for anything
// unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none":
		return LevelNone
	}
	return LevelInfo
}

// Logger writes to a shared sink, tagging each line with its component.
// Derived loggers (WithComponent) share the sink and its mutex, so lines from
// different components never interleave.
type Logger struct {
	mu        *sync.Mutex
	level     Level
	w         io.Writer
	file      *os.File
	component string
}

var (
	global *Logger
	once   sync.Once
)

// Init sets up the global logger. Only the first call has any effect.
func Init(level Level, path string) error {
	var err error
	once.Do(func() {
		global, err = New(level, path, "")
	})
	return err
}

// New opens path for appending and returns a logger writing to it. With
// LevelNone or an empty path the logger discards everything.
func New(level Level, path, component string) (*Logger, error) {
	l := &Logger{
		mu:        &sync.Mutex{},
		level:     level,
		component: component,
	}
	if level == LevelNone || path == "" {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l.file = f
	l.w = f
	return l, nil
}

// Global returns the global logger; before Init it is a discarding one.
func Global() *Logger {
	if global == nil {
		global = &Logger{mu: &sync.Mutex{}, level: LevelNone}
	}
	return global
}

// WithComponent derives a logger whose lines carry the given component tag,
// nested under the parent's tag when one exists.
func (l *Logger) WithComponent(component string) *Logger {
	tag := component
	if l.component != "" {
		tag = l.component + ":" + component
	}
	return &Logger{
		mu:        l.mu,
		level:     l.level,
		w:         l.w,
		file:      l.file,
		component: tag,
	}
}

func (l *Logger) emit(level Level, format string, args ...any) {
	if l.w == nil || level < l.level {
		return
	}

	tag := ""
	if l.component != "" {
		tag = "[" + l.component + "] "
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s [%s] %s%s\n",
		time.Now().Format("2006-01-02 15:04:05.000"), level, tag,
		fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) { l.emit(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.emit(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.emit(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.emit(LevelError, format, args...) }

// Close releases the underlying file. Derived loggers share it; close once.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Package-level shorthands for the global logger.

func Debug(format string, args ...any) { Global().Debug(format, args...) }
func Info(format string, args ...any)  { Global().Info(format, args...) }
func Warn(format string, args ...any)  { Global().Warn(format, args...) }
func Error(format string, args ...any) { Global().Error(format, args...) }
