package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// levelNames maps configured level strings to slog levels. Unknown
// strings fall back to info.
var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Logger emits structured records for one Coaty agent. Every record
// carries the agent's name; derived loggers add the core component or
// controller that produced it, so one agent's interleaved output stays
// attributable.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	slog *slog.Logger
}

// New creates a logger for the named agent.
//
// Parameters:
//   - agentName: Friendly name of the agent, attached to every record
//   - level: Minimum level: debug, info, warn, error (default info)
//   - format: "text" for development, anything else logs JSON
//   - out: Destination writer; nil logs to stdout (see Output)
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(agentName, level, format string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	minLevel, ok := levelNames[strings.ToLower(level)]
	if !ok {
		minLevel = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: minLevel}
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "coaty-agent"),
		slog.String("agent", agentName),
	})

	return &Logger{slog: slog.New(handler)}
}

// Output maps a configured output name to its writer: "stderr" selects
// standard error, everything else standard output.
func Output(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// Default creates a logger for use before configuration is loaded:
// JSON at info level on stdout, agent name "unnamed". It should only be
// used during early startup.
func Default() *Logger {
	return New("unnamed", "", "", nil)
}

// Nop returns a logger that discards all records. Used as the fallback
// when a component is constructed without a logger.
func Nop() *Logger {
	return &Logger{slog: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ForComponent derives a logger attributing records to one core
// component, e.g. the communication manager.
func (l *Logger) ForComponent(name string) *Logger {
	return &Logger{slog: l.slog.With("component", name)}
}

// ForController derives a logger attributing records to one controller.
func (l *Logger) ForController(name string) *Logger {
	return &Logger{slog: l.slog.With("controller", name)}
}

// Debug logs at debug level with alternating key/value args.
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

// Info logs at info level with alternating key/value args.
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

// Warn logs at warn level with alternating key/value args.
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

// Error logs at error level with alternating key/value args.
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}
