// Package logging builds the zerolog loggers used by the pipeline binaries.
// Each subsystem logs to the console and to its own file under the log
// directory.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	// Level is a zerolog level name. Default: info
	Level string

	// Format is "console" for human-readable output or "json".
	Format string

	// Dir receives {subsystem}.log. Empty disables the file sink.
	Dir string

	Service string
	Version string

	// Console overrides the console sink, mainly for tests. Default: stderr
	Console io.Writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger for the subsystem and a closer that flushes and
// closes its log file. The closer must be called at process exit.
func New(cfg Config, subsystem string) (zerolog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	if !strings.EqualFold(cfg.Format, "json") {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime}
	}

	var (
		out    io.Writer = console
		closer io.Closer = nopCloser{}
	)
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("create log directory: %w", err)
		}
		path := filepath.Join(cfg.Dir, subsystem+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(console, f)
		closer = &fileCloser{f: f}
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp().Str("subsystem", subsystem)
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	if cfg.Version != "" {
		ctx = ctx.Str("version", cfg.Version)
	}
	return ctx.Logger(), closer, nil
}

func parseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

type fileCloser struct {
	f *os.File
}

func (c *fileCloser) Close() error {
	if err := c.f.Sync(); err != nil {
		_ = c.f.Close()
		return err
	}
	return c.f.Close()
}
