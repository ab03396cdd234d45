// Package logging builds the daemon's structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Options configure New.
type Options struct {
	Level slog.Leveler
	// Terminal receives human-readable text; nil disables it.
	Terminal io.Writer
	// File receives JSON lines; empty disables it.
	File string
}

// New returns a logger fanning out to the terminal and the log file, and
// a closer for the file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if opts.Terminal != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Terminal, handlerOpts))
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, handlerOpts))
		closer = f
	}

	if len(handlers) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closer, nil
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
