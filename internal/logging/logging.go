// Package logging configures the suite's structured logger: zerolog writing
// JSON to a compressed file via lumberjack, plus a console writer that is
// suppressed when stdout is not a TTY. The file is rotated when it reaches
// MaxSizeMB; it is not rotated at calendar-day boundaries.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a logging verbosity level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls where and how the suite logs.
type Config struct {
	Level      Level
	FilePath   string // e.g. data/logs/suite.log; empty disables file logging
	MaxSizeMB  int    // rotate threshold
	MaxAgeDays int    // delete rotated files older than this
	MaxBackups int
	Compress   bool
	Console    bool // force console writer even when stdout isn't a TTY
}

// DefaultConfig mirrors the suite's documented logging defaults.
func DefaultConfig(dataDir string) Config {
	return Config{
		Level:      InfoLevel,
		FilePath:   dataDir + "/logs/suite.log",
		MaxSizeMB:  50,
		MaxAgeDays: 14,
		MaxBackups: 7,
		Compress:   true,
	}
}

// Init builds the global zerolog logger per cfg and returns it. Module
// loggers should be derived from it via WithComponent.
func Init(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer

	if cfg.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		})
	}

	if cfg.Console || isatty.IsTerminal(os.Stdout.Fd()) {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	logger := zerolog.New(out).With().Timestamp().Logger()
	return logger
}

func parseLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent returns a child logger tagging every record with the
// originating suite component (e.g. "registry", "health", "bridge").
func WithComponent(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// WithModule returns a child logger tagging records with a module_id, used
// by the registry and health monitor when logging per-module events.
func WithModule(base zerolog.Logger, moduleID string) zerolog.Logger {
	return base.With().Str("module_id", moduleID).Logger()
}
