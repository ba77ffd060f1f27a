// Package stage maps the backend's free-text status messages onto the
// coarse progress steps shown by the loader.
package stage

import "strings"

// Stage is an ordinal progress step in [Idle, Final].
type Stage int

const (
	Idle Stage = iota
	Validating
	Searching
	Analyzing
	Preparing
	Verifying
	Final
)

// Labels are the loader captions, indexed by Stage.
var Labels = [...]string{
	"Processing your question...",
	"Validating your question...",
	"Searching scientific databases...",
	"Analyzing research papers...",
	"Preparing comprehensive answer...",
	"Verifying answer accuracy...",
	"Finalizing answer...",
}

// Count is the number of loader steps.
const Count = len(Labels)

type rule struct {
	needles []string
	stage   Stage
}

// Rules are evaluated in order; status strings often match more than one
// needle loosely, so the first hit wins.
var rules = []rule{
	{[]string{"Validating"}, Validating},
	{[]string{"Searching"}, Searching},
	{[]string{"Analyzing", "Re-ranking"}, Analyzing},
	{[]string{"Preparing", "Generating"}, Preparing},
	{[]string{"Verifying"}, Verifying},
	{[]string{"Finalizing", "completed"}, Final},
}

// FromStatus returns the stage for a backend status string. Empty or
// unrecognized input maps to Idle.
func FromStatus(status string) Stage {
	if status == "" {
		return Idle
	}
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(status, n) {
				return r.stage
			}
		}
	}
	return Idle
}

// Label returns the loader caption for s. Out-of-range values are clamped.
func (s Stage) Label() string {
	return Labels[s.clamp()]
}

func (s Stage) clamp() Stage {
	switch {
	case s < Idle:
		return Idle
	case s > Final:
		return Final
	}
	return s
}
