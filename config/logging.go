package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
)

// Levels below and above the four built into slog.
const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// SlogLevel maps the configured level onto slog.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelTrace:
		return LevelTrace
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	case LogLevelFatal:
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger from the log configuration. The returned closer
// releases the output file, if any, and is never nil.
func NewLogger(c LogConfig) (*slog.Logger, io.Closer, error) {
	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch c.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log output: %w", err)
		}
		out, closer = f, f
	}

	logger, err := newLogger(out, c)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return logger, closer, nil
}

func newLogger(out io.Writer, c LogConfig) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level:     c.Level.SlogLevel(),
		AddSource: c.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey {
				return a
			}
			lvl, _ := a.Value.Any().(slog.Level)
			switch lvl {
			case LevelTrace:
				a.Value = slog.StringValue("TRACE")
			case LevelFatal:
				a.Value = slog.StringValue("FATAL")
			}
			return a
		},
	}

	var h slog.Handler
	switch c.Format {
	case "", "text":
		h = slog.NewTextHandler(out, opts)
	case "json":
		h = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Format)
	}

	// sorted so records are stable across runs
	keys := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, c.Fields[k]))
	}
	if len(attrs) > 0 {
		h = h.WithAttrs(attrs)
	}

	return slog.New(h), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
