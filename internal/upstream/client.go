// Package upstream talks to the research backend that retrieves, ranks and
// writes answers.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 30 * time.Second
	streamingTimeout = 300 * time.Second
	maxRetries       = 3
	initialBackoff   = 500 * time.Millisecond
	maxErrorBody     = 64 << 10
)

var (
	// ErrUnavailable is returned when the backend answers 500.
	ErrUnavailable = errors.New("research backend unavailable")
	// ErrEmptyBody is returned when the backend accepts a question but sends nothing.
	ErrEmptyBody = errors.New("empty response body")
)

// StatusError is a non-OK backend response other than 500.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("API request failed with status %d", e.Status)
}

// Client communicates with the research backend.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a backend client. timeout bounds non-streaming calls;
// zero selects the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// WithHTTPClient replaces the underlying HTTP client (for testing).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

type askRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id"`
	Stream   bool   `json:"stream"`
}

// Ask submits question for userID and returns the backend's event stream.
// The caller must close the returned body. At least one byte of the body
// has been received when Ask returns without error.
func (c *Client) Ask(ctx context.Context, question, userID string) (io.ReadCloser, error) {
	body, err := json.Marshal(askRequest{Question: question, UserID: userID, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, streamingTimeout)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/ask", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusInternalServerError:
		resp.Body.Close()
		cancel()
		return nil, ErrUnavailable
	case resp.StatusCode != http.StatusOK:
		serr := statusError(resp)
		resp.Body.Close()
		cancel()
		return nil, serr
	}

	br := bufio.NewReader(resp.Body)
	if _, err := br.Peek(1); err != nil {
		resp.Body.Close()
		cancel()
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyBody
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &cancelOnClose{Reader: br, closer: resp.Body, cancel: cancel}, nil
}

// History returns the raw history document stored for userID. Rate-limited
// requests are retried with exponential backoff.
func (c *Client) History(ctx context.Context, userID string) ([]byte, error) {
	endpoint := c.baseURL + "/history/" + url.PathEscape(userID)

	var lastErr error
	for attempt := range maxRetries {
		body, err := c.getJSON(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) getJSON(ctx context.Context, endpoint string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// statusError extracts a message from a JSON error body, preferring
// "message" over "detail".
func statusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e struct {
		Message string `json:"message"`
		Detail  any    `json:"detail"`
	}
	_ = json.Unmarshal(raw, &e)

	msg := e.Message
	if msg == "" {
		if d, ok := e.Detail.(string); ok {
			msg = d
		}
	}
	return &StatusError{Status: resp.StatusCode, Message: msg}
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

// cancelOnClose reads through a buffered body and cancels the request
// context on Close.
type cancelOnClose struct {
	io.Reader
	closer io.Closer
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.closer.Close()
	c.cancel()
	return err
}
