// Package logger wraps zerolog behind a small interface so every component
// takes a Logger by constructor injection instead of reaching for a
// package-level global.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

type zerologLogger struct {
	logger zerolog.Logger
}

// Options configures the root logger.
type Options struct {
	Level      string // "debug", "info", "warn", "error" (default "info")
	Structured bool   // JSON output when true, whatever Console is
	Console    bool   // console-writer instead of JSON when Structured is false
}

// New builds a Logger from Options, following the LOG_LEVEL /
// LOGGING_STRUCTURED / LOGGING_CONSOLE env knobs described in
// SPEC_FULL.md §2.
func New(opts Options) Logger {
	level := parseLevel(opts.Level)

	var w zerolog.Logger
	if opts.Structured || !opts.Console {
		w = zerolog.New(os.Stdout)
	} else {
		w = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}
	w = w.Level(level).With().Timestamp().Logger()

	return &zerologLogger{logger: w}
}

// NewLogger returns a Logger with default options (info level, console).
func NewLogger() Logger {
	return New(Options{Level: "info", Console: true})
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zerologLogger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *zerologLogger) Info(msg string)  { l.logger.Info().Msg(msg) }
func (l *zerologLogger) Warn(msg string)  { l.logger.Warn().Msg(msg) }
func (l *zerologLogger) Error(msg string) { l.logger.Error().Msg(msg) }
func (l *zerologLogger) Fatal(msg string) { l.logger.Fatal().Msg(msg) }

func (l *zerologLogger) WithField(key string, value interface{}) Logger {
	return &zerologLogger{logger: l.logger.With().Interface(key, value).Logger()}
}

func (l *zerologLogger) WithFields(fields map[string]interface{}) Logger {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &zerologLogger{logger: ctx.Logger()}
}
