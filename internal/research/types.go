// Package research folds the answer event stream into an answer snapshot.
//
// Apply is the pure transition function; Controller owns the single live
// submission and publishes snapshots as events arrive.
package research

import (
	"slices"

	"github.com/kalambet/sciask/internal/stage"
)

// Event names carried on the answer stream.
const (
	EventStatus   = "status"
	EventAnswer   = "answer"
	EventDocument = "document"
	EventError    = "error"
	EventComplete = "complete"
)

// Error codes attached to error events produced by the proxy.
const (
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeStreamError        = "STREAM_ERROR"
	CodeConnectionError    = "CONNECTION_ERROR"
)

// SourcesDelimiter separates the answer body from the legacy inline source list.
const SourcesDelimiter = "\n\nSources:"

// GenericError is shown when the stream itself fails rather than reporting an error.
const GenericError = "An error occurred while processing your question. Please try again."

// Phase is the lifecycle position of a submission.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseStreaming  Phase = "streaming"
	PhaseCompleted  Phase = "completed"
	PhaseErrored    Phase = "errored"
)

// Terminal reports whether no further events apply in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseErrored
}

// Source is one supporting document.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Excerpt string `json:"excerpt"`
	Journal string `json:"journal"`
	Year    int    `json:"year,omitempty"`
}

// Answer is the assembled research answer. Sources never share a URL.
type Answer struct {
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	BulletPoints []string `json:"bulletPoints"`
	Sources      []Source `json:"sources"`

	FromWebSearch  bool    `json:"from_websearch,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`
	QueryID        string  `json:"query_id,omitempty"`
}

// HasSource reports whether a source with url is already present.
func (a *Answer) HasSource(url string) bool {
	if a == nil {
		return false
	}
	return slices.ContainsFunc(a.Sources, func(s Source) bool { return s.URL == url })
}

func (a *Answer) clone() *Answer {
	if a == nil {
		return &Answer{}
	}
	c := *a
	c.BulletPoints = slices.Clone(a.BulletPoints)
	c.Sources = slices.Clone(a.Sources)
	return &c
}

// State is the snapshot of one submission exposed to renderers.
type State struct {
	Phase      Phase       `json:"phase"`
	StatusText string      `json:"status"`
	Answer     *Answer     `json:"answer"`
	IsLoading  bool        `json:"isLoading"`
	Error      string      `json:"error,omitempty"`
	Stage      stage.Stage `json:"currentStage"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	if s.Answer != nil {
		s.Answer = s.Answer.clone()
	}
	return s
}

// IdleState is the state before any submission and after Reset.
func IdleState() State {
	return State{Phase: PhaseIdle}
}

func submittingState() State {
	return State{Phase: PhaseSubmitting, IsLoading: true}
}

// StatusPayload is the body of a status event.
type StatusPayload struct {
	Status string `json:"status"`
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
