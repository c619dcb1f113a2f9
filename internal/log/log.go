// Package log is the category logger used across defreg.
//
// A line looks like
//
//	2025-12-06T10:45:00 [WARN] [cache] refusing to cache uid=3q2 ns=other
//
// Lines go to the configured writer and are republished on a broker so that
// `defreg watch --follow-log` can tail them. Nothing is written until Init or
// InitWriter runs; --debug and DEFREG_DEBUG decide whether the CLI calls Init.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/defreg/internal/pubsub"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a case-insensitive level name to a Level. "warning" is
// accepted for LevelWarn.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		return LevelWarn, nil
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return LevelDebug, fmt.Errorf("unknown log level %q", s)
}

// Category groups related log messages.
type Category string

const (
	CatRegistry Category = "registry" // Registry service and request contexts
	CatCompile  Category = "compile"  // Closure building and validation
	CatCache    Category = "cache"    // Cache tier operations
	CatAccess   Category = "access"   // Access decisions
	CatSource   Category = "source"   // Source loaders and change events
	CatWatcher  Category = "watcher"  // File watcher events
	CatDB       Category = "db"       // Database operations
	CatConfig   Category = "config"   // Configuration loading/saving
)

const timeLayout = "2006-01-02T15:04:05"

// Logger writes formatted entries to one writer.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	closer   io.Closer
	enabled  bool
	minLevel Level
	broker   *pubsub.Broker[string]
}

var (
	globalMu sync.RWMutex
	global   *Logger
)

func current() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

func install(l *Logger) {
	globalMu.Lock()
	prev := global
	global = l
	globalMu.Unlock()
	if prev != nil {
		prev.shutdown()
	}
}

// Init opens path for appending and makes it the global log. The returned
// func closes the file; calling Init again replaces the previous logger.
func Init(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304: debug log path comes from the user
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	l := newLogger(f, LevelDebug)
	l.closer = f
	install(l)
	return func() {
		globalMu.Lock()
		if global == l {
			global = nil
		}
		globalMu.Unlock()
		l.shutdown()
	}, nil
}

// InitWriter installs a logger on w, replacing any previous one. Used by tests
// and for logging to stderr.
func InitWriter(w io.Writer, minLevel Level) {
	install(newLogger(w, minLevel))
}

func newLogger(w io.Writer, minLevel Level) *Logger {
	return &Logger{
		out:      w,
		enabled:  true,
		minLevel: minLevel,
		broker:   pubsub.NewBroker[string](),
	}
}

func (l *Logger) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = false
	l.broker.Close()
	if l.closer != nil {
		_ = l.closer.Close()
		l.closer = nil
	}
}

// EnabledFromEnv reports whether DEFREG_DEBUG requests debug logging.
func EnabledFromEnv() bool {
	switch strings.ToLower(os.Getenv("DEFREG_DEBUG")) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

// SetEnabled toggles the global logger.
func SetEnabled(enabled bool) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel drops entries below level.
func SetMinLevel(level Level) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.minLevel = level
		l.mu.Unlock()
	}
}

func Debug(cat Category, msg string, fields ...any) { write(LevelDebug, cat, msg, fields) }
func Info(cat Category, msg string, fields ...any)  { write(LevelInfo, cat, msg, fields) }
func Warn(cat Category, msg string, fields ...any)  { write(LevelWarn, cat, msg, fields) }
func Error(cat Category, msg string, fields ...any) { write(LevelError, cat, msg, fields) }

// ErrorErr logs at error level with err appended as the error field.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	errText := "<nil>"
	if err != nil {
		errText = err.Error()
	}
	write(LevelError, cat, msg, append(fields, "error", errText))
}

func write(level Level, cat Category, msg string, fields []any) {
	if l := current(); l != nil {
		l.log(time.Now(), level, cat, msg, fields)
	}
}

func (l *Logger) log(now time.Time, level Level, cat Category, msg string, fields []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || level < l.minLevel {
		return
	}

	line := formatLine(now, level, cat, msg, fields)
	if l.out != nil {
		_, _ = io.WriteString(l.out, line)
	}
	l.broker.Publish(pubsub.CreatedEvent, line)
}

// formatLine renders one entry. A trailing key without a value is written as
// key=<missing>.
func formatLine(now time.Time, level Level, cat Category, msg string, fields []any) string {
	var b strings.Builder
	b.WriteString(now.Format(timeLayout))
	fmt.Fprintf(&b, " [%s] [%s] %s", level, cat, msg)
	for i := 0; i < len(fields); i += 2 {
		if i+1 == len(fields) {
			fmt.Fprintf(&b, " %v=<missing>", fields[i])
			break
		}
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	b.WriteByte('\n')
	return b.String()
}

// LogEvent is a pubsub event containing a log entry.
type LogEvent = pubsub.Event[string]

// Subscribe returns a channel of formatted entries, closed when ctx is
// cancelled or the logger is replaced. Returns nil before Init.
func Subscribe(ctx context.Context) <-chan LogEvent {
	l := current()
	if l == nil {
		return nil
	}
	return l.broker.Subscribe(ctx)
}
