package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/sciask/internal/config"
	"github.com/kalambet/sciask/internal/history"
	"github.com/kalambet/sciask/internal/research"
)

// apiClient holds what the CLI needs to reach the proxy.
type apiClient struct {
	baseURL    string
	token      string
	userID     string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, cfg, err
	}

	return &apiClient{
		baseURL: strings.TrimRight(cfg.Client.ServerURL, "/"),
		token:   cfg.Client.Token,
		userID:  cfg.Client.UserID,
		// Streams are bounded by the command context, not a client timeout.
		httpClient: &http.Client{},
	}, cfg, nil
}

func (c *apiClient) streamer() research.Streamer {
	return &research.HTTPStreamer{
		BaseURL: c.baseURL,
		Token:   c.token,
		Client:  c.httpClient,
	}
}

func (c *apiClient) syncer(opts ...history.Option) *history.Syncer {
	opts = append([]history.Option{history.WithHTTPClient(c.httpClient)}, opts...)
	return history.NewSyncer(c.baseURL, c.token, c.userID, opts...)
}

// health reports whether the proxy answers its health check.
func (c *apiClient) health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is sciask serve running? (%w)", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
