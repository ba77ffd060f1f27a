// Package render formats research answers, the progress loader and history
// lists for the terminal.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/sciask/internal/history"
	"github.com/kalambet/sciask/internal/research"
	"github.com/kalambet/sciask/internal/stage"
)

var (
	colorAccent  = lipgloss.Color("#2CD7C7")
	colorPrimary = lipgloss.Color("#20B9B4")
	colorMuted   = lipgloss.Color("#6B7F86")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

type styles struct {
	title   lipgloss.Style
	heading lipgloss.Style
	bold    lipgloss.Style
	muted   lipgloss.Style
	active  lipgloss.Style
	done    lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	link    lipgloss.Style
}

func colorStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		heading: lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		bold:    lipgloss.NewStyle().Bold(true),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
		active:  lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		done:    lipgloss.NewStyle().Foreground(colorPrimary),
		warning: lipgloss.NewStyle().Foreground(colorWarning),
		err:     lipgloss.NewStyle().Foreground(colorError),
		link:    lipgloss.NewStyle().Underline(true).Foreground(colorPrimary),
	}
}

func plainStyles() styles {
	s := lipgloss.NewStyle()
	return styles{s, s, s, s, s, s, s, s, s}
}

// Renderer turns domain values into terminal text.
type Renderer struct {
	st styles
}

// New returns a Renderer. When plain is set no styling is emitted.
func New(plain bool) *Renderer {
	if plain {
		return &Renderer{st: plainStyles()}
	}
	return &Renderer{st: colorStyles()}
}

// Loader renders the progress steps for s: finished steps are checked, the
// current one is marked, later ones are pending. The latest status text is
// shown underneath.
func (r *Renderer) Loader(s research.State) string {
	var b strings.Builder
	for i, label := range stage.Labels {
		st := stage.Stage(i)
		switch {
		case st < s.Stage:
			b.WriteString(r.st.done.Render("✓ " + label))
		case st == s.Stage:
			b.WriteString(r.st.active.Render("→ " + label))
		default:
			b.WriteString(r.st.muted.Render("○ " + label))
		}
		b.WriteByte('\n')
	}
	if s.StatusText != "" {
		b.WriteString(r.st.muted.Render("  " + s.StatusText))
		b.WriteByte('\n')
	}
	return b.String()
}

// Answer renders a completed answer with its key points and numbered sources.
func (r *Renderer) Answer(a *research.Answer) string {
	if a == nil {
		return ""
	}
	var b strings.Builder
	if a.Question != "" {
		b.WriteString(r.st.title.Render(a.Question))
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(a.Answer))
	b.WriteByte('\n')

	if len(a.BulletPoints) > 0 {
		b.WriteByte('\n')
		b.WriteString(r.st.heading.Render("Key points"))
		b.WriteByte('\n')
		for _, p := range a.BulletPoints {
			fmt.Fprintf(&b, "  • %s\n", p)
		}
	}

	if len(a.Sources) > 0 {
		b.WriteByte('\n')
		b.WriteString(r.st.heading.Render("Sources"))
		b.WriteByte('\n')
		for i, src := range a.Sources {
			fmt.Fprintf(&b, "  [%d] %s", i+1, r.st.bold.Render(src.Title))
			if meta := sourceMeta(src); meta != "" {
				b.WriteString(" " + r.st.muted.Render("("+meta+")"))
			}
			b.WriteByte('\n')
			if src.URL != "" {
				b.WriteString("      " + r.st.link.Render(src.URL) + "\n")
			}
		}
	}

	if a.FromWebSearch {
		b.WriteByte('\n')
		b.WriteString(r.st.warning.Render("Includes results from web search."))
		b.WriteByte('\n')
	}
	return b.String()
}

func sourceMeta(src research.Source) string {
	switch {
	case src.Journal != "" && src.Year > 0:
		return fmt.Sprintf("%s, %d", src.Journal, src.Year)
	case src.Journal != "":
		return src.Journal
	case src.Year > 0:
		return fmt.Sprint(src.Year)
	}
	return ""
}

// Error renders a failure message.
func (r *Renderer) Error(msg string) string {
	return r.st.err.Render("✗ "+msg) + "\n"
}

// History renders one line per entry: date, question and source count.
func (r *Renderer) History(entries []history.Entry) string {
	if len(entries) == 0 {
		return r.st.muted.Render("No questions yet.") + "\n"
	}
	var b strings.Builder
	for _, e := range entries {
		date := "          "
		if !e.Time.IsZero() {
			date = e.Time.Local().Format("2006-01-02")
		}
		fmt.Fprintf(&b, "%s  %s %s\n",
			r.st.muted.Render(date),
			r.st.bold.Render(e.Question),
			r.st.muted.Render(pluralSources(len(e.Answer.Sources))),
		)
	}
	return b.String()
}

// Entry renders a single history entry in full.
func (r *Renderer) Entry(e history.Entry) string {
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(r.st.muted.Render("Asked " + e.Time.Local().Format("Jan 2, 2006 15:04")))
		b.WriteByte('\n')
	}
	a := e.Answer
	if a.Question == "" {
		a.Question = e.Question
	}
	b.WriteString(r.Answer(&a))
	return b.String()
}

func pluralSources(n int) string {
	if n == 1 {
		return "(1 source)"
	}
	return fmt.Sprintf("(%d sources)", n)
}
