package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig is a lumberjack-rotated log file. An empty Path disables it.
type FileConfig struct {
	Path       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func (f FileConfig) writer(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

// Config describes the panel's own logging.
// Format is "text" (default) or "json". Color only applies to text on stderr.
type Config struct {
	Level      string     `mapstructure:"level"`
	Format     string     `mapstructure:"format"`
	Color      bool       `mapstructure:"color"`
	TimeStamps bool       `mapstructure:"timestamps"`
	File       FileConfig `mapstructure:",squash"`
	ConsoleDir string     `mapstructure:"console_dir"`
}

// ParseLevel maps debug|info|warn|error to a slog level; anything else is info.
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

// New builds a logger writing to w (stderr when nil) and, when configured,
// to a rotated file. The returned closer releases the file.
func New(cfg Config, w io.Writer) (*slog.Logger, io.Closer) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	json := strings.EqualFold(cfg.Format, "json")

	var handlers []slog.Handler
	switch {
	case json:
		handlers = append(handlers, slog.NewJSONHandler(w, opts))
	case cfg.Color:
		handlers = append(handlers, NewColorTextHandler(w, opts, cfg.TimeStamps))
	default:
		handlers = append(handlers, slog.NewTextHandler(w, withTime(opts, cfg.TimeStamps)))
	}

	var closer io.Closer = nopCloser{}
	if p := strings.TrimSpace(cfg.File.Path); p != "" {
		fw := cfg.File.writer(p)
		closer = fw
		if json {
			handlers = append(handlers, slog.NewJSONHandler(fw, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(fw, opts))
		}
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer
	}
	return slog.New(fanout(handlers)), closer
}

// withTime drops the time attribute unless show is set.
func withTime(opts *slog.HandlerOptions, show bool) *slog.HandlerOptions {
	if show {
		return opts
	}
	o := *opts
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey {
			return slog.Attr{}
		}
		return a
	}
	return &o
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
