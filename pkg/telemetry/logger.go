package telemetry

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a zerolog logger from cfg. A file output is opened for
// appending and stays open for the life of the process.
func NewLogger(cfg LoggingConfig) (zerolog.Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("failed to open log file: %w", err)
		}
		writer = file
	}

	return NewLoggerTo(writer, cfg)
}

// NewLoggerTo creates a logger from cfg that writes to w, ignoring
// cfg.Output.
func NewLoggerTo(w io.Writer, cfg LoggingConfig) (zerolog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	switch cfg.Format {
	case "", "console":
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.Kitchen,
			NoColor:    cfg.NoColor,
		}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	// The global level filters before the logger's own, and defaults to debug.
	if level < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}
	return ctx.Logger(), nil
}

// ParseLevel converts a level name to a zerolog.Level. The empty string is
// info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level: %s", level)
	}
	return l, nil
}

// Component returns a child logger tagged with a component name.
func Component(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
