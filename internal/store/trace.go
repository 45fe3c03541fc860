package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/polywalk/internal/walk"
)

// TraceEntry is one emitted waypoint, serialised as a line of trace.jsonl.
type TraceEntry struct {
	Step      int       `json:"step"`
	Index     int       `json:"index"`
	T         float64   `json:"t"`
	Q         []float64 `json:"q"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTraceEntry stamps a waypoint.
func NewTraceEntry(wp walk.Waypoint, at time.Time) TraceEntry {
	return TraceEntry{Step: wp.Step, Index: wp.Index, T: wp.T, Q: wp.Q, Timestamp: at}
}

// Waypoint converts the entry back.
func (e TraceEntry) Waypoint() walk.Waypoint {
	return walk.Waypoint{Step: e.Step, Index: e.Index, T: e.T, Q: e.Q}
}

// TracePath returns <baseDir>/walks/<sessionID>/trace.jsonl.
func TracePath(baseDir, sessionID string) string {
	return filepath.Join(SessionDir(baseDir, sessionID), "trace.jsonl")
}

// TraceWriter appends entries to a JSONL file through a buffer. It is safe
// for concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
	path   string
}

// NewTraceWriter opens the session's trace file. With appendMode the
// existing entries are kept, which is what a resumed walk wants.
func NewTraceWriter(baseDir, sessionID string, appendMode bool) (*TraceWriter, error) {
	if err := os.MkdirAll(SessionDir(baseDir, sessionID), 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	path := TracePath(baseDir, sessionID)
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	writer := bufio.NewWriterSize(file, 64*1024)
	return &TraceWriter{
		file:   file,
		writer: writer,
		enc:    json.NewEncoder(writer),
		path:   path,
	}, nil
}

// Write buffers one entry; it reaches disk on Flush or Close.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	// Encode terminates each value with a newline.
	if err := tw.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	return nil
}

// WriteWaypoint is Write for a waypoint stamped now.
func (tw *TraceWriter) WriteWaypoint(wp walk.Waypoint) error {
	return tw.Write(NewTraceEntry(wp, time.Now()))
}

// Flush writes buffered entries and syncs the file.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Path returns the trace file path.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader decodes entries from a JSONL stream.
type TraceReader struct {
	closer  io.Closer
	scanner *bufio.Scanner
	line    int
}

// NewTraceReader opens the trace of a session.
func NewTraceReader(baseDir, sessionID string) (*TraceReader, error) {
	file, err := os.Open(TracePath(baseDir, sessionID))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{SessionID: sessionID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	tr := ReadTrace(file)
	tr.closer = file
	return tr, nil
}

// ReadTrace reads entries from r, e.g. a downloaded trace.
func ReadTrace(r io.Reader) *TraceReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &TraceReader{scanner: scanner}
}

// Read returns the next entry, or io.EOF. Blank lines are skipped.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	for tr.scanner.Scan() {
		tr.line++
		line := tr.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry TraceEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trace line %d: %w", tr.line, err)
		}
		return &entry, nil
	}
	if err := tr.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trace line: %w", err)
	}
	return nil, io.EOF
}

// ReadAll reads the remaining entries.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

// Close closes the underlying file, if any.
func (tr *TraceReader) Close() error {
	if tr.closer == nil {
		return nil
	}
	if err := tr.closer.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// TruncateTrace cuts a session's trace after its first n entries, dropping
// a torn final line as well. A missing or shorter trace is left alone.
func TruncateTrace(baseDir, sessionID string, n int) error {
	path := TracePath(baseDir, sessionID)
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}

	reader := bufio.NewReader(file)
	var offset int64
	entries := 0
	for entries < n {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// A line without its newline was cut off mid-write.
			break
		}
		if err != nil {
			file.Close()
			return fmt.Errorf("failed to read trace file: %w", err)
		}
		offset += int64(len(line))
		if len(line) > 1 {
			entries++
		}
	}
	file.Close()

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat trace file: %w", err)
	}
	if info.Size() == offset {
		return nil
	}
	if err := os.Truncate(path, offset); err != nil {
		return fmt.Errorf("failed to truncate trace file: %w", err)
	}
	return nil
}

// DeleteTrace removes a session's trace. A missing file is not an error.
func DeleteTrace(baseDir, sessionID string) error {
	err := os.Remove(TracePath(baseDir, sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete trace file: %w", err)
	}
	return nil
}
