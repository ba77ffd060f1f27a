package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = string(it.ID)
	}
	return out
}

func TestItemTime(t *testing.T) {
	tests := []struct {
		name string
		json string
		want time.Time
	}{
		{"created_at wins", `{"created_at":"2024-01-02T03:04:05Z","timestamp":0}`, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"timestamp millis", `{"timestamp":1700000000000}`, time.UnixMilli(1700000000000).UTC()},
		{"timestamp string", `{"timestamp":"2023-06-01"}`, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"bad created_at falls back", `{"created_at":"yesterday","timestamp":1000}`, time.UnixMilli(1000).UTC()},
		{"nothing usable", `{"created_at":"nope","timestamp":"later"}`, time.Time{}},
		{"missing", `{}`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var it Item
			require.NoError(t, json.Unmarshal([]byte(tt.json), &it))
			assert.True(t, tt.want.Equal(it.Time()), "Time() = %v, want %v", it.Time(), tt.want)
		})
	}
}

func TestSortNewestFirst_StableNoOp(t *testing.T) {
	items := []Item{
		{ID: "a", CreatedAt: "2024-03-01T00:00:00Z"},
		{ID: "b", CreatedAt: "2024-02-01T00:00:00Z"},
		{ID: "c", CreatedAt: "2024-02-01T00:00:00Z"},
		{ID: "d", CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "e"},
		{ID: "f", CreatedAt: "garbage"},
	}
	want := ids(items)

	SortNewestFirst(items)
	assert.Equal(t, want, ids(items))

	SortNewestFirst(items)
	assert.Equal(t, want, ids(items))
}

func TestSortNewestFirst_MixedFields(t *testing.T) {
	items := []Item{
		{ID: "old", Timestamp: json.RawMessage(`1600000000000`)},
		{ID: "new", CreatedAt: "2030-01-01T00:00:00Z"},
		{ID: "mid", Timestamp: json.RawMessage(`"2025-01-01"`)},
	}
	SortNewestFirst(items)
	assert.Equal(t, []string{"new", "mid", "old"}, ids(items))
}

func TestFilter(t *testing.T) {
	items := []Item{
		{ID: "1", Question: "Does Coffee affect sleep?"},
		{ID: "2", Question: "Is running good for knees?"},
		{ID: "3", Question: "coffee and longevity"},
	}

	assert.Equal(t, []string{"1", "3"}, ids(Filter(items, "  COFFEE ")))
	assert.Equal(t, []string{"1", "2", "3"}, ids(Filter(items, "")))
	assert.Empty(t, Filter(items, "quantum"))
}

type memCache struct {
	mu    sync.Mutex
	saved map[string][]Item
	err   error
}

func (m *memCache) SaveHistory(_ context.Context, userID string, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = make(map[string][]Item)
	}
	m.saved[userID] = items
	return nil
}

func TestSyncer_Sync(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"queries":[
			{"id":"older","question":"q1","answer":"a","created_at":"2024-01-01T00:00:00Z"},
			{"id":"newer","question":"q2","answer":"b","timestamp":1893456000000}
		]}`)
	}))
	defer srv.Close()

	cache := &memCache{}
	s := NewSyncer(srv.URL, "tok", "user_1", WithCache(cache))
	require.NoError(t, s.Sync(context.Background()))

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, []string{"newer", "older"}, ids(s.Items()))
	assert.Equal(t, []string{"newer", "older"}, ids(cache.saved["user_1"]))
	assert.False(t, s.SyncedAt().IsZero())

	// Items hands out a copy.
	items := s.Items()
	items[0].ID = "mutated"
	assert.Equal(t, ID("newer"), s.Items()[0].ID)
}

func TestSyncer_NoUserID(t *testing.T) {
	s := NewSyncer("http://127.0.0.1:0", "tok", "")
	assert.ErrorIs(t, s.Sync(context.Background()), ErrNoUserID)
}

func TestSyncer_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"Failed to fetch history"}`)
	}))
	defer srv.Close()

	s := NewSyncer(srv.URL, "tok", "u")
	err := s.Sync(context.Background())
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusInternalServerError, he.Status)
}

func TestSyncer_FormatError(t *testing.T) {
	for name, body := range map[string]string{
		"missing queries": `{"items":[]}`,
		"null queries":    `{"queries":null}`,
		"not json":        `<html>`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			s := NewSyncer(srv.URL, "tok", "u")
			assert.ErrorIs(t, s.Sync(context.Background()), ErrFormat)
		})
	}
}

func TestSyncer_FailureKeepsList(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"queries":[{"id":"1","question":"q","answer":"a"}]}`)
	}))
	defer srv.Close()

	s := NewSyncer(srv.URL, "tok", "u")
	require.NoError(t, s.Sync(context.Background()))
	fail.Store(true)
	require.Error(t, s.Sync(context.Background()))
	assert.Equal(t, []string{"1"}, ids(s.Items()))
}

func TestSyncer_CacheFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"queries":[]}`)
	}))
	defer srv.Close()

	s := NewSyncer(srv.URL, "tok", "u", WithCache(&memCache{err: errors.New("disk full")}))
	assert.NoError(t, s.Sync(context.Background()))
}

type fakeRefresher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRefresher) Sync(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func (f *fakeRefresher) Items() []Item {
	return []Item{{ID: ID(fmt.Sprint(f.calls.Load()))}}
}

func TestPoller_RunOnce(t *testing.T) {
	src := &fakeRefresher{}
	var got []Item
	p := NewPoller(src, time.Hour, func(items []Item) { got = items })

	require.NoError(t, p.RunOnce(context.Background()))
	assert.Equal(t, []string{"1"}, ids(got))

	src.err = errors.New("offline")
	got = nil
	assert.Error(t, p.RunOnce(context.Background()))
	assert.Nil(t, got)
}

func TestPoller_RunUntilCancelled(t *testing.T) {
	src := &fakeRefresher{err: errors.New("offline")}
	p := NewPoller(src, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
