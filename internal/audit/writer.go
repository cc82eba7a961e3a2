// Package audit appends parsed swaps and trade plans to a JSONL file.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	KindSwap = "swap"
	KindPlan = "plan"
)

// Record is one line of the log.
type Record struct {
	ID     string `json:"id"`
	TimeMS int64  `json:"ts_ms"`
	Kind   string `json:"kind"`
	Data   any    `json:"data"`
}

// Writer is safe for concurrent use. A nil *Writer discards records.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
	now  func() time.Time
}

// New returns a writer appending to path, or nil when path is blank. The file
// is created on first write.
func New(path string) *Writer {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Writer{path: path, now: time.Now}
}

func (w *Writer) openLocked() error {
	if w.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Write stamps data with a fresh id and time and appends it. Each record is
// flushed so tailers see it immediately. It returns the record id.
func (w *Writer) Write(kind string, data any) (string, error) {
	if w == nil {
		return "", nil
	}
	if data == nil {
		return "", fmt.Errorf("audit: nil %s record", kind)
	}
	rec := Record{ID: uuid.NewString(), TimeMS: w.now().UnixMilli(), Kind: kind, Data: data}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("audit: encode %s: %w", kind, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.openLocked(); err != nil {
		return "", err
	}
	if _, err := w.buf.Write(b); err != nil {
		return "", err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return "", err
	}
	return rec.ID, w.buf.Flush()
}

func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	if w.buf != nil {
		firstErr = w.buf.Flush()
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.buf, w.file = nil, nil
	if errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	return firstErr
}
