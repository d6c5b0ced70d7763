package log

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Field keys shared across packages.
const (
	ExecutionIDKey = "execution_id"
	ScriptKey      = "script"
	SequenceKey    = "sequence"
	StepKey        = "step"
	PIDKey         = "pid"
	HandlerKey     = "handler"
	StateKey       = "state"
)

type Config struct {
	Level     string
	Format    Format
	Output    io.Writer
	AddSource bool

	// File, when set, sends output to a size-rotated log file instead of
	// Output. The terminal UI owns stdout/stderr, so it always logs to a file.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     FormatText,
		Output:     os.Stderr,
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// FromEnv reads the logging configuration from the environment:
//   - AUTOMENU_DEBUG: true/1 enables debug level and source locations
//   - AUTOMENU_LOG_LEVEL: trace, debug, info, warn, error
//   - AUTOMENU_LOG_FORMAT: json, text
//   - AUTOMENU_LOG_FILE: write to this file instead of stderr
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("AUTOMENU_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	} else if level := os.Getenv("AUTOMENU_LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}

	if format := os.Getenv("AUTOMENU_LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	if file := os.Getenv("AUTOMENU_LOG_FILE"); file != "" {
		cfg.File = file
	}

	return cfg
}

// New builds a logger. The returned closer releases the log file, if any.
func New(cfg *Config) (*slog.Logger, io.Closer) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	out := cfg.Output
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		out = lj
		closer = lj
	}
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), closer
}

const LevelTrace = slog.Level(-8)

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
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

// WithComponent tags every record with the emitting package.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// Discard is a logger that drops everything. Handy as a nil default.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDiscard returns logger, or a discarding logger when it is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
