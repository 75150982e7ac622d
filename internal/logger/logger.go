// Package logger is the process-wide structured logger used by every nfscore
// component. It wraps log/slog with a coloured text handler for terminals, a
// JSON handler for log shipping, and request-scoped fields carried through
// context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

var slogLevels = [...]slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel converts a level name into a Level. Unknown names report false.
func ParseLevel(s string) (Level, bool) {
	s = strings.ToUpper(s)
	if s == "WARNING" {
		return LevelWarn, true
	}
	for i, name := range levelNames {
		if s == name {
			return Level(i), true
		}
	}
	return LevelInfo, false
}

// Config is the logging section of the nfscore configuration.
type Config struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output"` // stdout, stderr, or file path
}

// sink is where records go and how they are rendered. Swapping it rebuilds
// the handler; level changes do not.
type sink struct {
	w      io.Writer
	file   *os.File // owned, closed when replaced
	color  bool
	format string
}

var (
	level   slog.LevelVar
	minimum atomic.Int32

	mu      sync.Mutex
	current = &sink{w: os.Stdout, color: isTerminal(os.Stdout.Fd()), format: "text"}
	active  atomic.Pointer[slog.Logger]
)

func init() {
	setLevel(LevelInfo)
	rebuild()
}

// rebuild installs a handler for current. mu must be held or the caller
// must be init.
func rebuild() {
	opts := &slog.HandlerOptions{Level: &level}
	var h slog.Handler
	if current.format == "json" {
		h = slog.NewJSONHandler(current.w, opts)
	} else {
		h = NewColorTextHandler(current.w, opts, current.color)
	}
	active.Store(slog.New(h))
}

func swapSink(next *sink) {
	mu.Lock()
	defer mu.Unlock()
	if current.file != nil && current.file != next.file {
		_ = current.file.Close()
	}
	current = next
	rebuild()
}

func openOutput(name string) (*sink, error) {
	switch strings.ToLower(name) {
	case "stdout":
		return &sink{w: os.Stdout, color: isTerminal(os.Stdout.Fd())}, nil
	case "stderr":
		return &sink{w: os.Stderr, color: isTerminal(os.Stderr.Fd())}, nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q: %w", name, err)
	}
	return &sink{w: f, file: f}, nil
}

// Init applies cfg. Empty fields keep their current value, so Init can be
// called again to change only the level on a configuration reload.
func Init(cfg Config) error {
	mu.Lock()
	next := *current
	mu.Unlock()

	if cfg.Output != "" {
		out, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}
		next.w, next.file, next.color = out.w, out.file, out.color
	}
	if f := strings.ToLower(cfg.Format); f == "text" || f == "json" {
		next.format = f
	}
	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	swapSink(&next)
	return nil
}

// InitWithWriter sends output to w. Tests use it to capture records.
func InitWithWriter(w io.Writer, lvl, format string, color bool) {
	mu.Lock()
	next := *current
	mu.Unlock()
	next.w, next.file, next.color = w, nil, color
	if f := strings.ToLower(format); f == "text" || f == "json" {
		next.format = f
	}
	if lvl != "" {
		SetLevel(lvl)
	}
	swapSink(&next)
}

func setLevel(l Level) {
	minimum.Store(int32(l))
	level.Set(slogLevels[l])
}

// SetLevel sets the minimum level. Invalid names are ignored.
func SetLevel(name string) {
	if l, ok := ParseLevel(name); ok {
		setLevel(l)
	}
}

// GetLevel returns the active minimum level.
func GetLevel() Level {
	return Level(minimum.Load())
}

// SetFormat switches between "text" and "json". Other values are ignored.
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return
	}
	mu.Lock()
	next := *current
	mu.Unlock()
	next.format = format
	swapSink(&next)
}

func enabled(l Level) bool {
	return l >= Level(minimum.Load())
}

// With returns a logger carrying args on every record.
func With(args ...any) *slog.Logger {
	return active.Load().With(args...)
}

// ============================================================================
// Structured Logging API
// ============================================================================

// Debug logs at debug level. Usage: Debug("msg", "key", value, ...).
func Debug(msg string, args ...any) {
	if enabled(LevelDebug) {
		active.Load().Debug(msg, args...)
	}
}

// Info logs at info level.
func Info(msg string, args ...any) {
	if enabled(LevelInfo) {
		active.Load().Info(msg, args...)
	}
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	if enabled(LevelWarn) {
		active.Load().Warn(msg, args...)
	}
}

// Error logs at error level.
func Error(msg string, args ...any) {
	active.Load().Error(msg, args...)
}

// ============================================================================
// Context-aware Logging API
// ============================================================================

// DebugCtx logs at debug level, prefixed with the LogContext fields of ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	if enabled(LevelDebug) {
		active.Load().Debug(msg, appendContextFields(ctx, args)...)
	}
}

// InfoCtx logs at info level with context fields.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	if enabled(LevelInfo) {
		active.Load().Info(msg, appendContextFields(ctx, args)...)
	}
}

// WarnCtx logs at warn level with context fields.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	if enabled(LevelWarn) {
		active.Load().Warn(msg, appendContextFields(ctx, args)...)
	}
}

// ErrorCtx logs at error level with context fields.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	active.Load().Error(msg, appendContextFields(ctx, args)...)
}

// appendContextFields prepends LogContext fields so they appear first.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	fields := make([]any, 0, 18+len(args))
	add := func(key string, v any, ok bool) {
		if ok {
			fields = append(fields, key, v)
		}
	}
	add(KeyTraceID, lc.TraceID, lc.TraceID != "")
	add(KeySpanID, lc.SpanID, lc.SpanID != "")
	add(KeyOperation, lc.Operation, lc.Operation != "")
	add(KeySessionID, lc.SessionID, lc.SessionID != "")
	add(KeySlotID, lc.SlotID, lc.HasSlot)
	add(KeySeqID, lc.SeqID, lc.HasSlot)
	add(KeyClientAddr, lc.ClientAddr, lc.ClientAddr != "")
	add(KeyUID, lc.UID, lc.UID != 0)
	add(KeyGID, lc.GID, lc.GID != 0)
	return append(fields, args...)
}
