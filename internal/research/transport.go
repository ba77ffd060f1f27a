package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 64 << 10

// HTTPStreamer opens answer streams against the proxy's POST /ask endpoint.
type HTTPStreamer struct {
	BaseURL string
	Token   string
	// Client defaults to a client without a timeout; streams are bounded
	// by the submission context instead.
	Client *http.Client
}

// StatusError reports a non-OK response from the proxy.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ask failed with status %d", e.Status)
	}
	return fmt.Sprintf("ask failed with status %d: %s", e.Status, e.Message)
}

func (h *HTTPStreamer) Open(ctx context.Context, question string) (io.ReadCloser, error) {
	body, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(h.BaseURL, "/")+"/ask", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	client := h.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening answer stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(raw, &e)
		return nil, &StatusError{Status: resp.StatusCode, Message: e.Error}
	}
	return resp.Body, nil
}
