package research

import (
	"encoding/json"
	"iter"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/sciask/internal/sse"
	"github.com/kalambet/sciask/internal/stage"
)

// timeNow is replaced in tests to pin the year fallback.
var timeNow = time.Now

type answerPayload struct {
	Content      *string  `json:"content"`
	BulletPoints []string `json:"bullet_points"`
}

type documentPayload struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	URL          string `json:"url"`
	JournalTitle string `json:"journal_title"`
	Journal      string `json:"journal"`
	Date         string `json:"date"`
}

type completePayload struct {
	FromWebSearch  *bool           `json:"from_websearch"`
	ProcessingTime *float64        `json:"processing_time"`
	QueryID        json.RawMessage `json:"query_id"`
}

// Apply returns the state after ev. It never mutates s or anything s points
// to. Unknown event types, unparseable payloads and events arriving after a
// terminal phase leave the state unchanged.
func Apply(s State, question string, ev sse.Event) State {
	if s.Phase.Terminal() {
		return s
	}

	switch ev.Type {
	case EventStatus:
		var p StatusPayload
		if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
			return s
		}
		s.Phase = PhaseStreaming
		s.StatusText = p.Status
		s.Stage = stage.FromStatus(p.Status)

	case EventAnswer:
		var p answerPayload
		if err := json.Unmarshal([]byte(ev.Data), &p); err != nil || p.Content == nil {
			return s
		}
		body, _, _ := strings.Cut(*p.Content, SourcesDelimiter)
		a := s.Answer.clone()
		a.Question = question
		a.Answer = strings.TrimSpace(body)
		a.BulletPoints = p.BulletPoints
		if a.BulletPoints == nil {
			a.BulletPoints = []string{}
		}
		s.Answer = a
		s.Phase = PhaseStreaming

	case EventDocument:
		src, ok := parseDocument(ev.Data)
		if !ok || s.Answer.HasSource(src.URL) {
			return s
		}
		a := s.Answer.clone()
		a.Sources = append(a.Sources, src)
		s.Answer = a
		s.Phase = PhaseStreaming

	case EventError:
		var p ErrorPayload
		if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
			return s
		}
		s.Error = p.Message
		if s.Error == "" {
			s.Error = GenericError
		}
		s.IsLoading = false
		s.Phase = PhaseErrored

	case EventComplete:
		var p completePayload
		if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
			return s
		}
		s.IsLoading = false
		s.StatusText = ""
		s.Phase = PhaseCompleted
		if s.Answer != nil {
			a := s.Answer.clone()
			if p.FromWebSearch != nil {
				a.FromWebSearch = *p.FromWebSearch
			}
			if p.ProcessingTime != nil {
				a.ProcessingTime = *p.ProcessingTime
			}
			if id := rawID(p.QueryID); id != "" {
				a.QueryID = id
			}
			s.Answer = a
		}
	}
	return s
}

// Fold applies every event of seq to a fresh submission of question and
// settles the result once the sequence ends. A read error stops the fold and
// is returned together with the failed state.
func Fold(question string, seq iter.Seq2[sse.Event, error]) (State, error) {
	s := submittingState()
	for ev, err := range seq {
		if err != nil {
			return fail(s), err
		}
		s = Apply(s, question, ev)
		if s.Phase.Terminal() {
			return s, nil
		}
	}
	return finish(s), nil
}

// finish settles a stream that ended without a terminal event.
func finish(s State) State {
	if s.Phase.Terminal() {
		return s
	}
	if s.Answer != nil && s.Answer.Answer != "" {
		s.IsLoading = false
		s.StatusText = ""
		s.Phase = PhaseCompleted
		return s
	}
	return fail(s)
}

func fail(s State) State {
	s.Error = GenericError
	s.IsLoading = false
	s.Phase = PhaseErrored
	return s
}

var bracketMarkup = regexp.MustCompile(`\[(.*?)\]`)

func parseDocument(data string) (Source, bool) {
	var p documentPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Source{}, false
	}
	if p.Title == "" || p.Content == "" || p.URL == "" {
		return Source{}, false
	}

	journal := p.JournalTitle
	if journal == "" {
		journal = p.Journal
	}

	return Source{
		Title:   strings.TrimSpace(unwrapFirstBracket(p.Title)),
		URL:     NormalizeURL(p.URL),
		Excerpt: strings.TrimSpace(p.Content),
		Journal: journal,
		Year:    yearOf(p.Date),
	}, true
}

func unwrapFirstBracket(s string) string {
	loc := bracketMarkup.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + s[loc[2]:loc[3]] + s[loc[1]:]
}

// NormalizeURL gives url an explicit scheme.
func NormalizeURL(url string) string {
	url = strings.TrimSpace(url)
	if strings.HasPrefix(url, "http") {
		return url
	}
	return "https://" + url
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseYear extracts the year from a document date.
func ParseYear(date string) (int, bool) {
	date = strings.TrimSpace(date)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return t.Year(), true
		}
	}
	return 0, false
}

// yearOf falls back to the current year when the date is missing or
// unreadable.
func yearOf(date string) int {
	if y, ok := ParseYear(date); ok {
		return y
	}
	return timeNow().Year()
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
