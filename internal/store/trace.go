package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/maximizer/internal/maximize"
	"github.com/cwbudde/maximizer/internal/opt"
)

// Trace event kinds
const (
	EventStart   = "start"
	EventAttempt = "attempt"
	EventDone    = "done"
)

// TraceEntry is one line of trace.jsonl: a participant's starting point,
// one of its minimizer attempts, or the end of its search.
type TraceEntry struct {
	Event string `json:"event"`
	Rank  int    `json:"rank"`

	// Attempt is the attempt index (attempt events) or the number of attempts (done events)
	Attempt int `json:"attempt"`

	// Draws is the number of reference draws needed for the start (start events)
	Draws int `json:"draws,omitempty"`

	// State and Forced describe how the search ended (done events)
	State  string `json:"state,omitempty"`
	Forced bool   `json:"forced,omitempty"`

	BoundsRemoved bool `json:"boundsRemoved,omitempty"`

	// Outcome is the minimizer result; start events carry only the point and its objective
	Outcome opt.Outcome `json:"outcome"`

	Timestamp time.Time `json:"timestamp"`
}

// TraceWriter records the progress of a run as JSON lines at
// <baseDir>/runs/<runID>/trace.jsonl. It implements maximize.Observer and
// is safe for concurrent use, so all in-process participants share one writer.
// The buffer is flushed whenever a participant finishes its search.
type TraceWriter struct {
	maximize.NopObserver

	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
	path string
	// err is the first write failure; later entries are dropped
	err error
}

// NewTraceWriter opens the trace of the given run. With append set, entries
// are added to an existing trace instead of replacing it.
func NewTraceWriter(baseDir, runID string, append bool) (*TraceWriter, error) {
	runDir := filepath.Join(baseDir, "runs", runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	path := filepath.Join(runDir, "trace.jsonl")
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	buf := bufio.NewWriterSize(file, 64*1024)
	return &TraceWriter{
		file: file,
		buf:  buf,
		enc:  json.NewEncoder(buf),
		path: path,
	}, nil
}

// Write buffers one entry
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.err != nil {
		return tw.err
	}
	if err := tw.enc.Encode(entry); err != nil {
		tw.err = fmt.Errorf("failed to write trace entry: %w", err)
		return tw.err
	}
	return nil
}

// record writes an observer event; only the first failure is logged
func (tw *TraceWriter) record(entry TraceEntry) {
	tw.mu.Lock()
	failed := tw.err != nil
	tw.mu.Unlock()
	if failed {
		return
	}

	entry.Timestamp = time.Now()
	if err := tw.Write(entry); err != nil {
		slog.Warn("Trace disabled after write failure", "path", tw.path, "rank", entry.Rank, "error", err)
	}
}

func (tw *TraceWriter) OnStart(rank int, s maximize.Start) {
	tw.record(TraceEntry{
		Event:   EventStart,
		Rank:    rank,
		Draws:   s.Draws,
		Outcome: opt.Outcome{X: s.X, F: s.F},
	})
}

func (tw *TraceWriter) OnAttempt(rank int, a maximize.SearchAttempt) {
	tw.record(TraceEntry{
		Event:         EventAttempt,
		Rank:          rank,
		Attempt:       a.Index,
		BoundsRemoved: a.BoundsRemoved,
		Outcome:       a.Outcome,
	})
}

func (tw *TraceWriter) OnSearchDone(rank int, r maximize.SearchResult) {
	tw.record(TraceEntry{
		Event:   EventDone,
		Rank:    rank,
		Attempt: r.Attempts,
		State:   r.State.String(),
		Forced:  r.Forced,
		Outcome: r.Outcome,
	})
	if err := tw.Flush(); err != nil {
		slog.Warn("Failed to flush trace", "path", tw.path, "error", err)
	}
}

// Flush writes buffered entries through to disk
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered entries and closes the file. It reports the first
// write failure if any entry was lost.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	flushErr := tw.buf.Flush()
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("failed to flush on close: %w", flushErr)
	}
	return tw.err
}

// Path returns the filesystem path to the trace file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader decodes the entries of a trace file in order.
type TraceReader struct {
	file *os.File
	dec  *json.Decoder
	line int
}

// NewTraceReader opens the trace of the given run. It returns a *NotFoundError
// when the run has no trace.
func NewTraceReader(baseDir, runID string) (*TraceReader, error) {
	path := filepath.Join(baseDir, "runs", runID, "trace.jsonl")

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceReader{file: file, dec: json.NewDecoder(bufio.NewReader(file))}, nil
}

// Read returns the next entry, or io.EOF after the last one.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.dec.More() {
		return nil, io.EOF
	}

	tr.line++
	var entry TraceEntry
	if err := tr.dec.Decode(&entry); err != nil {
		return nil, fmt.Errorf("failed to decode trace entry %d: %w", tr.line, err)
	}
	return &entry, nil
}

// ReadAll returns the remaining entries.
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

// Close closes the trace reader.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Attempts keeps the attempt events of entries
func Attempts(entries []TraceEntry) []TraceEntry {
	var out []TraceEntry
	for _, e := range entries {
		if e.Event == EventAttempt {
			out = append(out, e)
		}
	}
	return out
}
