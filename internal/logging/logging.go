package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fluent/fluent-logger-golang/fluent"
	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"catalogsync/internal/config"
)

const timeFormat = "2006-01-02 15:04:05"

// Options configures the logger built by New.
type Options struct {
	AppName string
	Level   slog.Leveler
	JSON    bool
	NoColor bool
	// Writer defaults to os.Stdout.
	Writer io.Writer
	// File, when set, receives a rotated JSON copy of every record.
	File string

	FluentEnabled bool
	FluentHost    string
	FluentPort    int
}

// FromConfig maps the application log settings to Options.
func FromConfig(appName string, c config.Log) Options {
	return Options{
		AppName:       appName,
		Level:         ParseLevel(c.Level),
		JSON:          c.Format == "json",
		NoColor:       c.NoColor,
		File:          c.File,
		FluentEnabled: c.FluentEnabled,
		FluentHost:    c.FluentHost,
		FluentPort:    c.FluentPort,
	}
}

// New builds a slog.Logger writing to the console and to the optional file
// and fluent sinks. The returned close func flushes and releases the sinks.
func New(opts Options) (*slog.Logger, func() error, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}

	handlers := []slog.Handler{consoleHandler(opts)}
	var closers []io.Closer

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		closers = append(closers, rotator)
		handlers = append(handlers, slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: opts.Level}))
	}

	if opts.FluentEnabled {
		client, err := fluent.New(fluent.Config{
			FluentHost: opts.FluentHost,
			FluentPort: opts.FluentPort,
			TagPrefix:  opts.AppName,
			Async:      true,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create fluent logger: %w", err)
		}
		closers = append(closers, client)
		handlers = append(handlers, NewFluentHandler(client, "app", opts.Level))
	}

	var h slog.Handler
	if len(handlers) == 1 {
		h = handlers[0]
	} else {
		h = &fanoutHandler{handlers: handlers}
	}

	logger := slog.New(h)
	if opts.AppName != "" {
		logger = logger.With(slog.String("app", opts.AppName))
	}

	closeFn := func() error {
		var firstErr error
		for _, c := range closers {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return logger, closeFn, nil
}

func consoleHandler(opts Options) slog.Handler {
	if opts.JSON {
		return slog.NewJSONHandler(opts.Writer, &slog.HandlerOptions{Level: opts.Level})
	}
	return tint.NewHandler(opts.Writer, &tint.Options{
		Level:      opts.Level,
		TimeFormat: timeFormat,
		NoColor:    opts.NoColor,
	})
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
