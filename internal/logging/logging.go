// Package logging builds the zerolog loggers used across the application:
// console output, an optional log file, and an optional audit file that
// receives WARN and above plus every audit event.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

// Options configures New.
type Options struct {
	Level     string // debug, info, warn, error, fatal
	File      string
	AuditFile string
	Component string

	// JSON disables the human-readable console writer.
	JSON bool

	// Console overrides stdout, mainly for tests.
	Console io.Writer
}

// Logger is a zerolog logger plus the files it owns.
type Logger struct {
	zerolog.Logger
	audit zerolog.Logger
	files []*os.File
}

// ParseLevel maps a level name to a zerolog level. Unknown names are info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
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

// New opens the configured outputs and returns a logger writing to all of them.
func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	if !opts.JSON {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime}
	}

	l := &Logger{audit: zerolog.Nop()}
	writers := []io.Writer{console}

	if opts.File != "" {
		f, err := openAppend(opts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.files = append(l.files, f)
		writers = append(writers, f)
	}

	if opts.AuditFile != "" {
		f, err := openAppend(opts.AuditFile)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.files = append(l.files, f)
		writers = append(writers, &levelFilter{w: f, min: zerolog.WarnLevel})

		actx := zerolog.New(f).With().Timestamp()
		if opts.Component != "" {
			actx = actx.Str("component", opts.Component)
		}
		l.audit = actx.Logger()
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp()
	if opts.Component != "" {
		ctx = ctx.Str("component", opts.Component)
	}
	l.Logger = ctx.Logger().Level(ParseLevel(opts.Level))
	return l, nil
}

// RouteGnark sends gnark's internal compile/prove logging through l.
// gnark logs at debug level, so it only shows when l does.
func RouteGnark(l zerolog.Logger) {
	gnarklogger.Set(l.With().Str("component", "gnark").Logger())
}

// Audit writes event to the audit file whatever the configured level, and
// logs it at info on the other outputs.
func (l *Logger) Audit(event string, details map[string]any) {
	l.audit.Log().Str("audit", event).Fields(details).Msg("audit")
	l.Info().Str("audit", event).Fields(details).Msg("audit")
}

// Close closes the files opened by New.
func (l *Logger) Close() error {
	var errs []error
	for _, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.files = nil
	return errors.Join(errs...)
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// levelFilter forwards only events at or above min.
type levelFilter struct {
	w   io.Writer
	min zerolog.Level
}

func (f *levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < f.min {
		return len(p), nil
	}
	return f.w.Write(p)
}
