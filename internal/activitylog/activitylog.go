// Package activitylog provides the append-only JSONL activity log.
//
// All writes go through a single goroutine so lines never interleave, and
// pruning (a full rewrite keeping the newest entries) runs on that same
// goroutine between appends.
package activitylog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fentz26/cadence/internal/models"
)

const (
	// DefaultMaxBytes is the size past which the log is pruned.
	DefaultMaxBytes = 2 << 20
	// DefaultKeep is the number of lines retained by a prune.
	DefaultKeep = 2000

	queueSize = 256
)

// Options configures a Log.
type Options struct {
	MaxBytes int64
	Keep     int
	Logger   *slog.Logger
}

type request struct {
	line []byte
	done chan struct{}
}

// Log is an append-only activity log backed by a single file.
type Log struct {
	path     string
	maxBytes int64
	keep     int
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan request
	wg     sync.WaitGroup

	// owned by the writer goroutine
	file *os.File
	size int64
}

// Open opens (or creates) the log at path and starts its writer.
func Open(path string, opts Options) (*Log, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Keep <= 0 {
		opts.Keep = DefaultKeep
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	l := &Log{
		path:     path,
		maxBytes: opts.MaxBytes,
		keep:     opts.Keep,
		logger:   opts.Logger,
		queue:    make(chan request, queueSize),
	}
	if err := l.reopen(); err != nil {
		return nil, err
	}

	l.wg.Add(1)
	go l.writer()
	return l, nil
}

// Path returns the file backing the log.
func (l *Log) Path() string { return l.path }

// Append enqueues an entry. It never fails; entries appended after Close
// are dropped.
func (l *Log) Append(entry models.ActivityEntry) {
	line, err := json.Marshal(entry)
	if err != nil {
		l.logger.Warn("activity entry not encodable", "error", err)
		return
	}
	line = append(line, '\n')

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	l.queue <- request{line: line}
}

// Sync blocks until every entry appended before the call is on disk.
func (l *Log) Sync() {
	done := make(chan struct{})
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return
	}
	l.queue <- request{done: done}
	l.mu.RUnlock()
	<-done
}

// Close drains the queue and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Recent returns up to n of the newest entries, oldest first.
func (l *Log) Recent(n int) ([]models.ActivityEntry, error) {
	l.Sync()

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read activity log: %w", err)
	}

	lines := splitLines(data)
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	entries := make([]models.ActivityEntry, 0, len(lines))
	for _, line := range lines {
		var e models.ActivityEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (l *Log) writer() {
	defer l.wg.Done()
	for req := range l.queue {
		if req.line != nil {
			l.write(req.line)
		}
		if req.done != nil {
			close(req.done)
		}
	}
}

// write appends one line; disk errors are logged and swallowed.
func (l *Log) write(line []byte) {
	if l.file == nil {
		if err := l.reopen(); err != nil {
			l.logger.Warn("activity log unavailable", "error", err)
			return
		}
	}
	n, err := l.file.Write(line)
	l.size += int64(n)
	if err != nil {
		l.logger.Warn("activity log write failed", "error", err)
		return
	}
	if l.size > l.maxBytes {
		if err := l.prune(); err != nil {
			l.logger.Warn("activity log prune failed", "error", err)
		}
	}
}

// prune rewrites the file keeping only the newest lines.
func (l *Log) prune() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read for prune: %w", err)
	}
	lines := splitLines(data)
	if len(lines) > l.keep {
		lines = lines[len(lines)-l.keep:]
	}

	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write pruned log: %w", err)
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace log: %w", err)
	}
	l.logger.Debug("activity log pruned", "kept", len(lines))
	return l.reopen()
}

func (l *Log) reopen() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat activity log: %w", err)
	}
	l.file = f
	l.size = info.Size()
	return nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		line := make([]byte, len(sc.Bytes()))
		copy(line, sc.Bytes())
		lines = append(lines, line)
	}
	return lines
}
