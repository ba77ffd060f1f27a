package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/sciask/internal/research"
	"github.com/kalambet/sciask/internal/sse"
	"github.com/kalambet/sciask/internal/upstream"
)

const (
	statusValidating   = "Validating your scientific question..."
	unavailableMessage = "I apologize, but I'm having trouble connecting to the research service right now. Please try again in a few moments."
	emptyBodyMessage   = "No response body received from API"
)

// Asker opens the research backend's answer stream for a question.
type Asker interface {
	Ask(ctx context.Context, question, userID string) (io.ReadCloser, error)
}

// Framer relays the backend's answer stream, re-framing each event and
// turning upstream failures into a single error event.
type Framer struct {
	upstream Asker
	logger   *slog.Logger
}

// NewFramer returns a Framer reading from up. A nil logger selects
// slog.Default().
func NewFramer(up Asker, logger *slog.Logger) *Framer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Framer{upstream: up, logger: logger}
}

// Relay answers question for userID and writes the event stream to w. Frames
// are flushed as they are written if w supports it, and w is closed on
// return if it is an io.Closer.
func (f *Framer) Relay(ctx context.Context, w io.Writer, question, userID string) {
	f.relay(ctx, f.logger, w, question, userID)
}

func (f *Framer) relay(ctx context.Context, logger *slog.Logger, w io.Writer, question, userID string) {
	start := time.Now()
	out := sse.NewWriter(w)
	outcome := outcomeOK
	forwarded := 0
	defer func() {
		if err := out.Close(); err != nil && !errors.Is(err, sse.ErrClosed) {
			logger.Warn("closing event stream", "error", err)
		}
		askRequests.WithLabelValues(outcome).Inc()
		streamDuration.Observe(time.Since(start).Seconds())
		logger.Debug("answer stream closed",
			"outcome", outcome,
			"events", forwarded,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	if err := out.WriteEvent(research.EventStatus, research.StatusPayload{Status: statusValidating}); err != nil {
		outcome = outcomeClientGone
		return
	}

	body, err := f.upstream.Ask(ctx, question, userID)
	if err != nil {
		if ctx.Err() != nil {
			outcome = outcomeCanceled
			return
		}
		code, msg := classifyUpstream(err)
		logger.Error("research backend request failed", "code", code, "error", err)
		outcome = outcomeUpstream
		writeFailure(out, code, msg)
		return
	}
	defer body.Close()

	for ev, err := range sse.NewReader(body).All() {
		if err != nil {
			if ctx.Err() != nil {
				outcome = outcomeCanceled
				return
			}
			logger.Error("reading research stream", "error", err)
			outcome = outcomeUpstream
			writeFailure(out, research.CodeConnectionError, unavailableMessage)
			return
		}
		if err := out.WriteRaw(ev.Type, strings.TrimSpace(ev.Data)); err != nil {
			outcome = outcomeClientGone
			return
		}
		forwarded++
		forwardedEvents.WithLabelValues(eventLabel(ev.Type)).Inc()
	}
}

// classifyUpstream maps a failed backend call to an error code and the
// message shown to the user.
func classifyUpstream(err error) (code, message string) {
	var se *upstream.StatusError
	switch {
	case errors.Is(err, upstream.ErrUnavailable):
		return research.CodeServiceUnavailable, unavailableMessage
	case errors.As(err, &se):
		return research.CodeStreamError, se.Error()
	case errors.Is(err, upstream.ErrEmptyBody):
		return research.CodeStreamError, emptyBodyMessage
	default:
		return research.CodeConnectionError, unavailableMessage
	}
}

func writeFailure(out *sse.Writer, code, message string) {
	upstreamFailures.WithLabelValues(code).Inc()
	out.WriteEvent(research.EventError, research.ErrorPayload{Message: message, Code: code})
}
