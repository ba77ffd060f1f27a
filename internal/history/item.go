// Package history reads a user's past questions from the proxy and turns
// each stored answer, whatever shape it was saved in, into a renderable
// research.Answer.
package history

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Item is one stored question as returned by GET /history. The backend has
// saved answers in several shapes over time, so Answer stays raw until
// Classify looks at it.
type Item struct {
	ID        ID              `json:"id"`
	Question  string          `json:"question"`
	Answer    json.RawMessage `json:"answer"`
	Documents json.RawMessage `json:"documents,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`

	FromWebSearch  *bool    `json:"from_websearch,omitempty"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`
}

// ID accepts both string and numeric identifiers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*id = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		*id = ID(b)
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Time is the item's effective time: created_at when it parses, otherwise
// timestamp (milliseconds since the epoch, or a date string). It is the
// zero time when neither is usable.
func (it Item) Time() time.Time {
	if t, ok := parseTime(it.CreatedAt); ok {
		return t
	}

	raw := bytes.TrimSpace(it.Timestamp)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}
		}
		t, _ := parseTime(s)
		return t
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms)).UTC()
}

// SortNewestFirst orders items by effective time, newest first. Items with
// equal times keep their relative order.
func SortNewestFirst(items []Item) {
	slices.SortStableFunc(items, func(a, b Item) int {
		return b.Time().Compare(a.Time())
	})
}

// Filter returns the items whose question contains term, ignoring case. An
// empty term matches everything.
func Filter(items []Item, term string) []Item {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if term == "" || strings.Contains(strings.ToLower(it.Question), term) {
			out = append(out, it)
		}
	}
	return out
}
