package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrClosed is returned by writes after Close, and by a second Close.
var ErrClosed = errors.New("sse: stream closed")

type flusher interface {
	Flush()
}

// Writer is the output side of an event stream. Each frame is flushed as soon
// as it is written. Writer is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewWriter wraps w. If w implements Flush() (as http.ResponseWriter does) it
// is flushed after every frame; if it implements io.Closer it is closed by
// Close.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteEvent marshals v as JSON and writes it as one frame.
func (w *Writer) WriteEvent(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", name, err)
	}
	return w.WriteRaw(name, string(data))
}

// WriteRaw writes data verbatim under the given event name. Multi-line data
// is split over several data lines so the frame stays well-formed.
func (w *Writer) WriteRaw(name, data string) error {
	name = CleanName(name)
	if name == "" {
		return errors.New("sse: empty event name")
	}

	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(name)
	buf.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(strings.TrimRight(line, "\r"))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if _, err := w.w.Write(buf.Bytes()); err != nil {
		return err
	}
	if f, ok := w.w.(flusher); ok {
		f.Flush()
	}
	return nil
}

// Close ends the stream. Only the first call reaches the underlying writer;
// later calls return ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	if c, ok := w.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Closed reports whether Close has been called.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
