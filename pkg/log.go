package pkg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Component identifies a subsystem for log filtering.
type Component string

// Host controller engine component identifiers.
const (
	ComponentController Component = "controller"
	ComponentCommand    Component = "command"
	ComponentEvent      Component = "event"
	ComponentTransfer   Component = "transfer"
	ComponentRegistry   Component = "registry"
	ComponentRing       Component = "ring"
	ComponentDMA        Component = "dma"
	ComponentSim        Component = "sim"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

// String returns the name accepted by [LogFormat.UnmarshalText].
func (f LogFormat) String() string {
	if f == LogFormatJSON {
		return "json"
	}
	return "text"
}

// UnmarshalText accepts "text" or "json", case-insensitively.
func (f *LogFormat) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "text":
		*f = LogFormatText
	case "json":
		*f = LogFormatJSON
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidParameter, b)
	}
	return nil
}

// LogConfig selects the level and format of the default logger. Both
// fields decode from YAML scalars such as "debug" and "json".
type LogConfig struct {
	Level  slog.Level `yaml:"level"`
	Format LogFormat  `yaml:"format"`
}

var (
	logLevel  = new(slog.LevelVar)
	logger    atomic.Pointer[slog.Logger]
	logFormat atomic.Int32
)

func init() {
	logLevel.Set(slog.LevelWarn)
	logger.Store(newLogger(os.Stderr, LogFormatText, logLevel))
}

func newLogger(w io.Writer, format LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ConfigureLogging points the default logger at w with the level and format
// of cfg. A nil w means os.Stderr.
func ConfigureLogging(w io.Writer, cfg LogConfig) {
	if w == nil {
		w = os.Stderr
	}
	logLevel.Set(cfg.Level)
	logFormat.Store(int32(cfg.Format))
	logger.Store(newLogger(w, cfg.Format, logLevel))
}

// SetLogLevel sets the minimum log level for all engine logging.
func SetLogLevel(level slog.Level) { logLevel.Set(level) }

// GetLogLevel returns the current minimum log level.
func GetLogLevel() slog.Level { return logLevel.Level() }

// SetLogFormat rebuilds the default logger on os.Stderr in the given format.
func SetLogFormat(format LogFormat) {
	logFormat.Store(int32(format))
	logger.Store(newLogger(os.Stderr, format, logLevel))
}

// SetLogger replaces the default logger. Its handler decides which levels
// are emitted; [SetLogLevel] only affects loggers built by this package.
func SetLogger(l *slog.Logger) { logger.Store(l) }

// Logger returns the default logger.
func Logger() *slog.Logger { return logger.Load() }

// NewLogger creates a logger writing to w in the current default format at
// the shared level.
func NewLogger(w io.Writer) *slog.Logger {
	return newLogger(w, LogFormat(logFormat.Load()), logLevel)
}

// logAt drops disabled records before building the attribute list, which
// keeps debug logging off the event drain path when it is not wanted.
func logAt(level slog.Level, component Component, msg string, args []any) {
	l := logger.Load()
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, msg, append([]any{"component", string(component)}, args...)...)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, msg, args)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, msg, args)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, msg, args)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, msg, args)
}
