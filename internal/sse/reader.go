package sse

import (
	"io"
	"iter"
)

const readBufSize = 4096

// Reader pulls events from an underlying byte stream one at a time.
type Reader struct {
	src    io.Reader
	parser Parser
	buf    []byte
	queue  []Event
	err    error
}

// NewReader returns a Reader decoding events from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{src: r, buf: make([]byte, readBufSize)}
}

// Next returns the next complete event. It returns io.EOF once the stream has
// ended cleanly and every buffered frame has been delivered; any other error
// comes from the underlying reader, after the events decoded before it.
func (r *Reader) Next() (Event, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return Event{}, r.err
		}
		n, err := r.src.Read(r.buf)
		if n > 0 {
			r.queue = append(r.queue, r.parser.Feed(r.buf[:n])...)
		}
		if err != nil {
			if err == io.EOF {
				r.queue = append(r.queue, r.parser.Flush()...)
			}
			r.err = err
		}
	}
	ev := r.queue[0]
	r.queue = r.queue[1:]
	return ev, nil
}

// All ranges over the remaining events. A read failure is yielded once as
// the final element; a clean end of stream simply stops the iteration.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := r.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
