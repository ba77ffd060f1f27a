package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoUserID is returned by Sync when no user is signed in.
	ErrNoUserID = errors.New("no user ID provided")
	// ErrFormat is returned when the history document has no queries list.
	ErrFormat = errors.New("invalid response format")
)

// HTTPError is a non-OK response from the history endpoint.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("history request failed with status %d", e.Status)
}

// Cache keeps the last synced list for offline use.
type Cache interface {
	SaveHistory(ctx context.Context, userID string, items []Item) error
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Syncer) { s.client = c }
}

// WithCache stores every successful sync in c.
func WithCache(c Cache) Option {
	return func(s *Syncer) { s.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// Syncer fetches the signed-in user's history from the proxy and holds the
// latest list.
type Syncer struct {
	baseURL string
	token   string
	userID  string
	client  *http.Client
	cache   Cache
	logger  *slog.Logger

	mu       sync.Mutex
	items    []Item
	syncedAt time.Time
}

// NewSyncer creates a Syncer for userID against the proxy at baseURL,
// authenticating with token.
func NewSyncer(baseURL, token, userID string, opts ...Option) *Syncer {
	s := &Syncer{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		userID:  userID,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type historyDocument struct {
	Queries *[]Item `json:"queries"`
}

// Decode reads a history document and returns its items newest first.
func Decode(r io.Reader) ([]Item, error) {
	var doc historyDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if doc.Queries == nil {
		return nil, ErrFormat
	}
	items := *doc.Queries
	SortNewestFirst(items)
	return items, nil
}

// Sync replaces the held list with the proxy's current one, newest first.
// On error the held list is left unchanged.
func (s *Syncer) Sync(ctx context.Context) error {
	if s.userID == "" {
		return ErrNoUserID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/history", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &HTTPError{Status: resp.StatusCode}
	}

	items, err := Decode(resp.Body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.items = items
	s.syncedAt = time.Now()
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SaveHistory(ctx, s.userID, items); err != nil {
			s.logger.Warn("caching history failed", "error", err)
		}
	}
	return nil
}

// Items returns a copy of the held list.
func (s *Syncer) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// SyncedAt reports when the held list was last replaced.
func (s *Syncer) SyncedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncedAt
}
