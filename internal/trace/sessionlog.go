// Package trace writes the per-run session log: one NDJSON record per
// phase transition, machine-parsable for tests and tooling.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yoshihiko555/takt/internal/logging"
)

// Record is a single session-log entry.
type Record struct {
	Seq         int    `json:"seq"`
	Type        string `json:"type"`
	Movement    string `json:"movement,omitempty"`
	Phase       string `json:"phase,omitempty"`
	MatchMethod string `json:"matchMethod,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// Writer records session-log entries.
type Writer interface {
	Enabled() bool
	Record(rec Record) error
	Path() string
	Close() error
}

// NewWriter creates a session-log writer. An empty path yields a no-op
// writer.
func NewWriter(path string, logger *logging.Logger) (Writer, error) {
	if path == "" {
		return &noopWriter{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating session log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening session log: %w", err)
	}
	return &fileWriter{f: f, path: path, logger: logger}, nil
}

type noopWriter struct{}

func (n *noopWriter) Enabled() bool         { return false }
func (n *noopWriter) Record(_ Record) error { return nil }
func (n *noopWriter) Path() string          { return "" }
func (n *noopWriter) Close() error          { return nil }

type fileWriter struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	seq    int
	logger *logging.Logger
}

func (w *fileWriter) Enabled() bool { return true }
func (w *fileWriter) Path() string  { return w.path }

func (w *fileWriter) Record(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	rec.Seq = w.seq
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session log record: %w", err)
	}
	if _, err := w.f.Write(append(data, '\n')); err != nil {
		// Logging must never kill a run; warn and keep going.
		if w.logger != nil {
			w.logger.Warn("session log write failed", "error", err)
		}
		return err
	}
	return nil
}

func (w *fileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
