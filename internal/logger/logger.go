// Package logger builds the zerolog loggers used across the service.
// Every line is a single JSON object carrying "ts" and "level".
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"

	"studentdocs/internal/config"
)

// New returns the process logger: stdout, plus a rotating file when LOG_FILE is set.
func New(cfg config.LogConfig) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.File != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}
	return NewWithWriter(w, cfg.Level, cfg.Location())
}

// NewWithWriter returns a JSON logger writing to w with timestamps rendered in loc.
func NewWithWriter(w io.Writer, level string, loc *time.Location) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if loc == nil {
		loc = time.UTC
	}
	return zerolog.New(w).Level(lvl).Hook(tsHook{loc: loc})
}

// Nop discards everything; used by tests and optional collaborators.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

type tsHook struct {
	loc *time.Location
}

func (h tsHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Str("ts", time.Now().In(h.loc).Format(time.RFC3339Nano))
}
