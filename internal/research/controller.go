package research

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/kalambet/sciask/internal/sse"
)

// ErrEmptyQuestion is returned by Submit for a blank question.
var ErrEmptyQuestion = errors.New("question is required")

// Streamer opens the answer event stream for a question. Closing the
// returned body must release the underlying connection.
type Streamer interface {
	Open(ctx context.Context, question string) (io.ReadCloser, error)
}

// StreamerFunc adapts a function to Streamer.
type StreamerFunc func(ctx context.Context, question string) (io.ReadCloser, error)

func (f StreamerFunc) Open(ctx context.Context, question string) (io.ReadCloser, error) {
	return f(ctx, question)
}

// Option configures a Controller.
type Option func(*Controller)

// WithUpdateHandler registers fn to receive every new snapshot. fn runs on
// the consuming goroutine and must not call Submit or Reset.
func WithUpdateHandler(fn func(State)) Option {
	return func(c *Controller) { c.onUpdate = fn }
}

// WithLogger sets the logger used for stream failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller owns at most one in-flight submission. Starting a new one, or
// resetting, tears down the previous stream and waits for its consumer to
// exit before any new state is written.
type Controller struct {
	streamer Streamer
	onUpdate func(State)
	logger   *slog.Logger

	// ops serializes Submit and Reset.
	ops sync.Mutex

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController returns an idle Controller reading streams from s.
func NewController(s Streamer, opts ...Option) *Controller {
	c := &Controller{
		streamer: s,
		logger:   slog.Default(),
		state:    IdleState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit starts answering question, canceling any submission in flight. It
// returns once the new stream consumer has been started; use Wait to block
// until it finishes.
func (c *Controller) Submit(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return ErrEmptyQuestion
	}

	c.ops.Lock()
	defer c.ops.Unlock()
	c.stop()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	c.update(gen, func(State) State { return submittingState() })
	go c.consume(runCtx, cancel, gen, question, done)
	return nil
}

// Reset cancels any submission in flight and returns to the idle state.
// Calling it repeatedly is harmless.
func (c *Controller) Reset() {
	c.ops.Lock()
	defer c.ops.Unlock()
	c.stop()

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.update(gen, func(State) State { return IdleState() })
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Wait blocks until the current consumer, if any, has exited or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop invalidates the current generation, cancels its stream and waits for
// the consumer goroutine to return.
func (c *Controller) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.gen++
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// update applies fn if gen is still current and publishes the result. It
// reports whether the generation was current.
func (c *Controller) update(gen uint64, fn func(State) State) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.state = fn(c.state)
	snap := c.state.Clone()
	handler := c.onUpdate
	c.mu.Unlock()

	if handler != nil {
		handler(snap)
	}
	return true
}

func (c *Controller) consume(ctx context.Context, cancel context.CancelFunc, gen uint64, question string, done chan struct{}) {
	defer close(done)
	defer cancel()

	body, err := c.streamer.Open(ctx, question)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("opening answer stream failed", "error", err)
			c.update(gen, fail)
		}
		return
	}

	var once sync.Once
	closeBody := func() { once.Do(func() { body.Close() }) }
	defer closeBody()
	// A blocked Read only returns once the body is closed.
	stopAfter := context.AfterFunc(ctx, closeBody)
	defer stopAfter()

	if !c.update(gen, func(s State) State {
		if s.Phase == PhaseSubmitting {
			s.Phase = PhaseStreaming
		}
		return s
	}) {
		return
	}

	for ev, err := range sse.NewReader(body).All() {
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("reading answer stream failed", "error", err)
				c.update(gen, fail)
			}
			return
		}
		terminal := false
		if !c.update(gen, func(s State) State {
			s = Apply(s, question, ev)
			terminal = s.Phase.Terminal()
			return s
		}) {
			return
		}
		if terminal {
			return
		}
	}

	if ctx.Err() == nil {
		c.update(gen, finish)
	}
}
