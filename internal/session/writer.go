package session

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Writer appends records to a log, one whole line per write.
//
// Thread-safety: Write is safe for concurrent use; lines never interleave.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	lines int
}

// NewWriter appends records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends rec as a single line.
func (w *Writer) Write(rec Record) error {
	line := rec.Format() + "\n"

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, line); err != nil {
		return fmt.Errorf("append %c record: %w", rec.Kind(), err)
	}
	w.lines++
	return nil
}

// Lines returns the number of records written.
func (w *Writer) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// Log is a log file opened for replay followed by appending.
type Log struct {
	*Writer
	f *os.File
}

// Open opens or creates the log at path. Writes always append, whatever has
// been read.
//
// A log whose last line was cut short by a crash is terminated first, so the
// torn line stays a single malformed line and the next record starts on a
// line of its own.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	if err := terminateTail(f); err != nil {
		f.Close()
		return nil, err
	}
	return &Log{Writer: NewWriter(f), f: f}, nil
}

func terminateTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	var last [1]byte
	if _, err := f.ReadAt(last[:], info.Size()-1); err != nil {
		return fmt.Errorf("read log tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	slog.Warn("log ends in a partial line", "path", f.Name(), "size", info.Size())
	if _, err := f.WriteString("\n"); err != nil {
		return fmt.Errorf("terminate log tail: %w", err)
	}
	return nil
}

// Reader returns a reader positioned at the start of the log.
func (l *Log) Reader() (*Reader, error) {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind log: %w", err)
	}
	return NewReader(l.f), nil
}

// Path returns the file name of the log.
func (l *Log) Path() string {
	return l.f.Name()
}

// Close flushes and closes the log.
func (l *Log) Close() error {
	if err := l.f.Sync(); err != nil {
		l.f.Close()
		return fmt.Errorf("sync log: %w", err)
	}
	return l.f.Close()
}
