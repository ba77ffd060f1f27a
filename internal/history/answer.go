package history

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/sciask/internal/research"
)

// Placeholder is the answer body shown when a stored answer is unreadable.
const Placeholder = "No response available"

const legacySourcesDelimiter = "\n\nSources:\n"

// Kind tags the shape a stored answer was saved in.
type Kind int

const (
	Unknown Kind = iota
	Structured
	JSONEncoded
	MarkdownLegacy
)

func (k Kind) String() string {
	switch k {
	case Structured:
		return "structured"
	case JSONEncoded:
		return "json-encoded"
	case MarkdownLegacy:
		return "markdown"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// storedObject is the object form of an answer, stored directly or as a
// JSON string.
type storedObject struct {
	Answer         string            `json:"answer"`
	Sources        []research.Source `json:"sources"`
	Documents      []document        `json:"documents"`
	FromWebSearch  *bool             `json:"from_websearch"`
	ProcessingTime *float64          `json:"processing_time"`
}

type document struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	URL          string `json:"url"`
	JournalTitle string `json:"journal_title"`
	Journal      string `json:"journal"`
	Date         string `json:"date"`
}

// StoredAnswer is a classified stored answer. Exactly one of obj and text
// is meaningful, depending on Kind.
type StoredAnswer struct {
	Kind Kind
	obj  storedObject
	text string
}

// Classify decides which shape raw is in. It never fails; anything it cannot
// read is Unknown.
func Classify(raw json.RawMessage) StoredAnswer {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return StoredAnswer{Kind: Unknown}
	}

	switch raw[0] {
	case '{':
		if obj, ok := decodeObject(raw); ok {
			return StoredAnswer{Kind: Structured, obj: obj}
		}
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || strings.TrimSpace(s) == "" {
			return StoredAnswer{Kind: Unknown}
		}
		if obj, ok := decodeObject([]byte(s)); ok {
			return StoredAnswer{Kind: JSONEncoded, obj: obj}
		}
		return StoredAnswer{Kind: MarkdownLegacy, text: s}
	}
	return StoredAnswer{Kind: Unknown}
}

// decodeObject accepts an object only if it carries a string answer.
func decodeObject(b []byte) (storedObject, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return storedObject{}, false
	}
	rawAnswer, ok := probe["answer"]
	if !ok {
		return storedObject{}, false
	}
	var answer string
	if err := json.Unmarshal(rawAnswer, &answer); err != nil {
		return storedObject{}, false
	}

	// Field-level type mismatches are tolerated; whatever decoded is kept.
	var obj storedObject
	_ = json.Unmarshal(b, &obj)
	obj.Answer = answer
	return obj, true
}

// Entry is a history item ready to display.
type Entry struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	// Time is zero when the item carries no usable date.
	Time   time.Time       `json:"time"`
	Kind   Kind            `json:"kind"`
	Answer research.Answer `json:"answer"`
}

// Normalize turns it into an Entry. It is total: every item yields an answer
// body and a non-nil source list.
func Normalize(it Item) Entry {
	stored := Classify(it.Answer)

	var a research.Answer
	switch stored.Kind {
	case Structured:
		a = fromObject(stored.obj, false)
	case JSONEncoded:
		a = fromObject(stored.obj, true)
	case MarkdownLegacy:
		a = fromMarkdown(stored.text)
	default:
		a = research.Answer{Answer: Placeholder}
	}

	a.Question = it.Question
	if a.BulletPoints == nil {
		a.BulletPoints = []string{}
	}
	if len(a.Sources) == 0 && len(it.Documents) > 0 {
		var docs []document
		if err := json.Unmarshal(it.Documents, &docs); err == nil {
			a.Sources = sourcesFromDocuments(docs)
		}
	}
	if a.Sources == nil {
		a.Sources = []research.Source{}
	}
	if it.FromWebSearch != nil && !a.FromWebSearch {
		a.FromWebSearch = *it.FromWebSearch
	}
	if it.ProcessingTime != nil && a.ProcessingTime == 0 {
		a.ProcessingTime = *it.ProcessingTime
	}

	return Entry{
		ID:       string(it.ID),
		Question: it.Question,
		Time:     it.Time(),
		Kind:     stored.Kind,
		Answer:   a,
	}
}

// NormalizeAll normalizes items in order.
func NormalizeAll(items []Item) []Entry {
	out := make([]Entry, len(items))
	for i, it := range items {
		out[i] = Normalize(it)
	}
	return out
}

func fromObject(obj storedObject, cutSources bool) research.Answer {
	body := obj.Answer
	if cutSources {
		body, _, _ = strings.Cut(body, research.SourcesDelimiter)
	}
	a := research.Answer{Answer: strings.TrimSpace(body)}
	if a.Answer == "" {
		a.Answer = Placeholder
	}

	if len(obj.Sources) > 0 {
		a.Sources = dedup(obj.Sources)
	} else {
		a.Sources = sourcesFromDocuments(obj.Documents)
	}
	if obj.FromWebSearch != nil {
		a.FromWebSearch = *obj.FromWebSearch
	}
	if obj.ProcessingTime != nil {
		a.ProcessingTime = *obj.ProcessingTime
	}
	return a
}

var (
	mdTitle = regexp.MustCompile(`\[(.*?)\]`)
	mdURL   = regexp.MustCompile(`\]\((.*?)\)`)
	mdYear  = regexp.MustCompile(`\((\d{4})\)`)
)

func fromMarkdown(text string) research.Answer {
	body, list, found := strings.Cut(text, legacySourcesDelimiter)
	if !found {
		return research.Answer{Answer: text}
	}

	var sources []research.Source
	for line := range strings.SplitSeq(list, "\n") {
		if !strings.HasPrefix(line, "* [") {
			continue
		}
		var src research.Source
		if m := mdTitle.FindStringSubmatch(line); m != nil {
			src.Title = m[1]
		}
		if m := mdURL.FindStringSubmatch(line); m != nil {
			src.URL = m[1]
		}
		if m := mdYear.FindStringSubmatch(line); m != nil {
			src.Year, _ = strconv.Atoi(m[1])
		}
		sources = append(sources, src)
	}
	return research.Answer{Answer: strings.TrimSpace(body), Sources: dedup(sources)}
}

var indentedBreak = regexp.MustCompile(`\n\s+`)

func collapse(s string) string {
	return strings.TrimSpace(indentedBreak.ReplaceAllString(s, " "))
}

func sourcesFromDocuments(docs []document) []research.Source {
	sources := make([]research.Source, 0, len(docs))
	for _, d := range docs {
		journal := d.JournalTitle
		if journal == "" {
			journal = d.Journal
		}
		year, _ := research.ParseYear(d.Date)
		url := strings.TrimSpace(d.URL)
		if url != "" {
			url = research.NormalizeURL(url)
		}
		sources = append(sources, research.Source{
			Title:   collapse(d.Title),
			URL:     url,
			Excerpt: collapse(d.Content),
			Journal: journal,
			Year:    year,
		})
	}
	return dedup(sources)
}

// dedup drops later sources that repeat an earlier URL. Sources without a
// URL are kept.
func dedup(sources []research.Source) []research.Source {
	seen := make(map[string]bool, len(sources))
	out := sources[:0:0]
	for _, s := range sources {
		if s.URL != "" {
			if seen[s.URL] {
				continue
			}
			seen[s.URL] = true
		}
		out = append(out, s)
	}
	return out
}
