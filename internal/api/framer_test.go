package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kalambet/sciask/internal/research"
	"github.com/kalambet/sciask/internal/sse"
	"github.com/kalambet/sciask/internal/upstream"
)

// fakeUpstream is a scripted research backend.
type fakeUpstream struct {
	askFn     func(ctx context.Context, question, userID string) (io.ReadCloser, error)
	historyFn func(ctx context.Context, userID string) ([]byte, error)

	gotQuestion string
	gotUserID   string
}

func (f *fakeUpstream) Ask(ctx context.Context, question, userID string) (io.ReadCloser, error) {
	f.gotQuestion, f.gotUserID = question, userID
	return f.askFn(ctx, question, userID)
}

func (f *fakeUpstream) History(ctx context.Context, userID string) ([]byte, error) {
	f.gotUserID = userID
	return f.historyFn(ctx, userID)
}

// trackedBody records whether it was closed.
type trackedBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackedBody) Close() error {
	b.closed.Store(true)
	return nil
}

func streamOf(frames string) func(context.Context, string, string) (io.ReadCloser, error) {
	return func(context.Context, string, string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(frames)), nil
	}
}

func failWith(err error) func(context.Context, string, string) (io.ReadCloser, error) {
	return func(context.Context, string, string) (io.ReadCloser, error) {
		return nil, err
	}
}

// readEvents parses everything the framer wrote.
func readEvents(t *testing.T, data []byte) []sse.Event {
	t.Helper()
	var events []sse.Event
	for ev, err := range sse.NewReader(bytes.NewReader(data)).All() {
		if err != nil {
			t.Fatalf("reading framer output: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

const answerFrames = "event: status\ndata: {\"status\":\"Searching research databases...\"}\n\n" +
	"event: answer\ndata:   {\"content\":\"Yes.\"}  \n\n" +
	"event: document\ndata: {\"title\":\"T\",\"content\":\"C\",\"url\":\"a.example\"}\n\n" +
	"event: complete\ndata: {}\n\n"

func TestRelay_ForwardsFrames(t *testing.T) {
	up := &fakeUpstream{askFn: streamOf(answerFrames)}
	var out bytes.Buffer

	NewFramer(up, nil).Relay(context.Background(), &out, "Does it work?", "user_1")

	if up.gotQuestion != "Does it work?" || up.gotUserID != "user_1" {
		t.Errorf("upstream got (%q, %q), want (%q, %q)", up.gotQuestion, up.gotUserID, "Does it work?", "user_1")
	}

	events := readEvents(t, out.Bytes())
	wantTypes := []string{"status", "status", "answer", "document", "complete"}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d: %q", len(events), len(wantTypes), out.String())
	}
	for i, ev := range events {
		if ev.Type != wantTypes[i] {
			t.Errorf("event[%d] = %q, want %q", i, ev.Type, wantTypes[i])
		}
	}
	if events[0].Data != `{"status":"Validating your scientific question..."}` {
		t.Errorf("first status = %q", events[0].Data)
	}
	if events[2].Data != `{"content":"Yes."}` {
		t.Errorf("answer data = %q, want trimmed payload", events[2].Data)
	}
}

func TestRelay_DropsMalformedFrames(t *testing.T) {
	frames := "data: {\"orphan\":true}\n\n" +
		"event: status\n\n" +
		"event: answer\ndata: {\"content\":\"ok\"}\n\n"
	up := &fakeUpstream{askFn: streamOf(frames)}
	var out bytes.Buffer

	NewFramer(up, nil).Relay(context.Background(), &out, "q", "u")

	events := readEvents(t, out.Bytes())
	if len(events) != 2 || events[1].Type != "answer" {
		t.Errorf("events = %+v, want validating status then answer", events)
	}
}

func TestRelay_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    string
		message string
	}{
		{"server error", upstream.ErrUnavailable, research.CodeServiceUnavailable, unavailableMessage},
		{"status with message", &upstream.StatusError{Status: 422, Message: "Question too long"}, research.CodeStreamError, "Question too long"},
		{"status without message", &upstream.StatusError{Status: 404}, research.CodeStreamError, "API request failed with status 404"},
		{"wrapped status", fmt.Errorf("ask: %w", &upstream.StatusError{Status: 400, Message: "bad"}), research.CodeStreamError, "bad"},
		{"empty body", upstream.ErrEmptyBody, research.CodeStreamError, emptyBodyMessage},
		{"transport", errors.New("dial tcp: connection refused"), research.CodeConnectionError, unavailableMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(upstreamFailures.WithLabelValues(tt.code))

			up := &fakeUpstream{askFn: failWith(tt.err)}
			var out bytes.Buffer
			NewFramer(up, nil).Relay(context.Background(), &out, "q", "u")

			events := readEvents(t, out.Bytes())
			if len(events) != 2 {
				t.Fatalf("got %d events, want 2: %q", len(events), out.String())
			}
			if events[1].Type != "error" {
				t.Fatalf("second event = %q, want error", events[1].Type)
			}
			want := fmt.Sprintf(`{"message":%q,"code":%q}`, tt.message, tt.code)
			if events[1].Data != want {
				t.Errorf("error data = %s, want %s", events[1].Data, want)
			}

			if got := testutil.ToFloat64(upstreamFailures.WithLabelValues(tt.code)); got != before+1 {
				t.Errorf("upstream failures[%s] = %v, want %v", tt.code, got, before+1)
			}
		})
	}
}

func TestRelay_ReadErrorMidStream(t *testing.T) {
	body := &trackedBody{Reader: io.MultiReader(
		strings.NewReader("event: status\ndata: {\"status\":\"Analyzing\"}\n\n"),
		iotest.ErrReader(errors.New("connection reset")),
	)}
	up := &fakeUpstream{askFn: func(context.Context, string, string) (io.ReadCloser, error) {
		return body, nil
	}}
	var out bytes.Buffer

	NewFramer(up, nil).Relay(context.Background(), &out, "q", "u")

	events := readEvents(t, out.Bytes())
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %q", len(events), out.String())
	}
	if events[1].Type != "status" || events[2].Type != "error" {
		t.Errorf("events = %+v, want forwarded status then error", events)
	}
	if !strings.Contains(events[2].Data, research.CodeConnectionError) {
		t.Errorf("error data = %s, want %s", events[2].Data, research.CodeConnectionError)
	}
	if !body.closed.Load() {
		t.Error("upstream body not closed")
	}
}

func TestRelay_CanceledContextWritesNoError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	up := &fakeUpstream{askFn: func(ctx context.Context, _, _ string) (io.ReadCloser, error) {
		return nil, ctx.Err()
	}}
	var out bytes.Buffer
	NewFramer(up, nil).Relay(ctx, &out, "q", "u")

	events := readEvents(t, out.Bytes())
	if len(events) != 1 || events[0].Type != "status" {
		t.Errorf("events = %+v, want only the validating status", events)
	}
}

// closeCountingWriter counts Close calls.
type closeCountingWriter struct {
	bytes.Buffer
	closes int
}

func (w *closeCountingWriter) Close() error {
	w.closes++
	return nil
}

func TestRelay_ClosesOutputOnce(t *testing.T) {
	cases := map[string]*fakeUpstream{
		"success":  {askFn: streamOf(answerFrames)},
		"failure":  {askFn: failWith(upstream.ErrUnavailable)},
		"no event": {askFn: streamOf("")},
	}
	for name, up := range cases {
		t.Run(name, func(t *testing.T) {
			w := &closeCountingWriter{}
			NewFramer(up, nil).Relay(context.Background(), w, "q", "u")
			if w.closes != 1 {
				t.Errorf("Close called %d times, want 1", w.closes)
			}
		})
	}
}

func TestRelay_StopsWhenClientGone(t *testing.T) {
	up := &fakeUpstream{askFn: streamOf(answerFrames)}
	pr, pw := io.Pipe()
	pr.Close()

	NewFramer(up, nil).Relay(context.Background(), pw, "q", "u")

	if up.gotQuestion != "" {
		t.Error("upstream called although the client was already gone")
	}
}

func TestEventLabel(t *testing.T) {
	for _, name := range []string{"status", "answer", "document", "error", "complete"} {
		if got := eventLabel(name); got != name {
			t.Errorf("eventLabel(%q) = %q", name, got)
		}
	}
	if got := eventLabel("heartbeat"); got != "other" {
		t.Errorf("eventLabel(heartbeat) = %q, want other", got)
	}
}
