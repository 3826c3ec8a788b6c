package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/config"
)

// ServiceName is attached to every entry as "service".
const ServiceName = "aqara-bridge"

const redacted = "[REDACTED]"

// secretKeys name attributes whose values never reach a log sink: gateway
// passwords, heartbeat tokens and derived write keys.
var secretKeys = map[string]bool{
	"password":  true,
	"token":     true,
	"write_key": true,
}

// Logger is a *slog.Logger with the bridge's default attributes. It
// satisfies the Logger interfaces of the aqara, accessory, mqtt and api
// packages.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the process config.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newWithWriter(cfg, version, out)
}

func newWithWriter(cfg config.LoggingConfig, version string, out io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}

	return &Logger{Logger: slog.New(h).With("service", ServiceName, "version", version)}
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] && a.Value.String() != "" {
		return slog.String(a.Key, redacted)
	}
	return a
}

// parseLevel maps debug, info, warn(ing) and error to slog levels. Anything
// else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags entries with the emitting subsystem, e.g. "aqara-transport".
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the logger used before the config file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
