// Package sse decodes and encodes the named-event server-sent-event frames
// exchanged between the backend, the proxy and the answer consumer.
//
// A frame is
//
//	event: <name>
//	data: <payload>
//
// terminated by a blank line. Frames without both an event and a data line
// are skipped rather than reported, so one bad frame never stalls a
// long-lived stream.
package sse

import (
	"strings"
)

// maxPending bounds the bytes buffered for a single unterminated frame.
const maxPending = 1 << 20

// Event is one decoded frame. Data is the raw payload, usually JSON.
type Event struct {
	Type string
	Data string
}

// Parser turns arbitrary chunks of an event stream into complete events.
// A frame split across chunk boundaries is held until its terminating blank
// line arrives. The zero value is ready to use; a Parser is not safe for
// concurrent use.
type Parser struct {
	pending strings.Builder
}

// Feed consumes chunk and returns every frame it completes, in stream order.
func (p *Parser) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}
	p.pending.Write(chunk)
	buf := strings.ReplaceAll(p.pending.String(), "\r\n", "\n")

	var events []Event
	for {
		idx := strings.Index(buf, "\n\n")
		if idx < 0 {
			break
		}
		if ev, ok := parseFrame(buf[:idx]); ok {
			events = append(events, ev)
		}
		buf = buf[idx+2:]
	}

	p.pending.Reset()
	if len(buf) <= maxPending {
		p.pending.WriteString(buf)
	}
	return events
}

// Flush parses whatever is left once the input has ended and resets the
// parser. It returns nil when nothing usable remains.
func (p *Parser) Flush() []Event {
	rest := strings.ReplaceAll(p.pending.String(), "\r\n", "\n")
	p.pending.Reset()
	if ev, ok := parseFrame(strings.Trim(rest, "\n")); ok {
		return []Event{ev}
	}
	return nil
}

// Buffered reports how many bytes of an incomplete frame are being held.
func (p *Parser) Buffered() int {
	return p.pending.Len()
}

func parseFrame(frame string) (Event, bool) {
	var (
		ev      Event
		data    []string
		hasData bool
	)
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		switch field {
		case "event":
			ev.Type = CleanName(value)
		case "data":
			data = append(data, strings.TrimSpace(value))
			hasData = true
		}
	}
	if ev.Type == "" || !hasData {
		return Event{}, false
	}
	ev.Data = strings.Join(data, "\n")
	return ev, true
}

var nameCleaner = strings.NewReplacer("\r", "", "\n", "")

// CleanName strips embedded line breaks and surrounding space from an event
// name so it cannot break frame boundaries.
func CleanName(name string) string {
	return strings.TrimSpace(nameCleaner.Replace(name))
}
