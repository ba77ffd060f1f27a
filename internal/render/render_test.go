package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kalambet/sciask/internal/history"
	"github.com/kalambet/sciask/internal/research"
	"github.com/kalambet/sciask/internal/stage"
)

func TestLoader_MarksStages(t *testing.T) {
	r := New(true)

	out := r.Loader(research.State{Stage: stage.Analyzing, StatusText: "Re-ranking 40 papers"})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, stage.Count+1)
	assert.Equal(t, "✓ "+stage.Labels[0], lines[0])
	assert.Equal(t, "✓ "+stage.Labels[2], lines[2])
	assert.Equal(t, "→ "+stage.Labels[3], lines[3])
	assert.Equal(t, "○ "+stage.Labels[6], lines[6])
	assert.Equal(t, "  Re-ranking 40 papers", lines[7])
}

func TestLoader_IdleHasNoStatusLine(t *testing.T) {
	out := New(true).Loader(research.IdleState())

	assert.Equal(t, stage.Count, strings.Count(out, "\n"))
	assert.True(t, strings.HasPrefix(out, "→ "+stage.Labels[0]))
}

func TestAnswer(t *testing.T) {
	a := &research.Answer{
		Question:     "Is coffee healthy?",
		Answer:       "Mostly, in moderation.",
		BulletPoints: []string{"Lower mortality", "Sleep effects"},
		Sources: []research.Source{
			{Title: "Coffee and mortality", URL: "https://a.example", Journal: "NEJM", Year: 2012},
			{Title: "Caffeine and sleep", URL: "https://b.example", Year: 2019},
			{Title: "Untitled preprint"},
		},
		FromWebSearch: true,
	}

	want := "Is coffee healthy?\n\n" +
		"Mostly, in moderation.\n\n" +
		"Key points\n" +
		"  • Lower mortality\n" +
		"  • Sleep effects\n\n" +
		"Sources\n" +
		"  [1] Coffee and mortality (NEJM, 2012)\n" +
		"      https://a.example\n" +
		"  [2] Caffeine and sleep (2019)\n" +
		"      https://b.example\n" +
		"  [3] Untitled preprint\n\n" +
		"Includes results from web search.\n"

	assert.Equal(t, want, New(true).Answer(a))
}

func TestAnswer_Minimal(t *testing.T) {
	assert.Equal(t, "Short.\n", New(true).Answer(&research.Answer{Answer: "  Short. "}))
	assert.Empty(t, New(true).Answer(nil))
}

func TestError(t *testing.T) {
	assert.Equal(t, "✗ boom\n", New(true).Error("boom"))
}

func TestHistory(t *testing.T) {
	r := New(true)
	assert.Equal(t, "No questions yet.\n", r.History(nil))

	when := time.Date(2024, 5, 2, 12, 0, 0, 0, time.Local)
	entries := []history.Entry{
		{ID: "2", Question: "Does caffeine help?", Time: when, Answer: research.Answer{Sources: []research.Source{{}}}},
		{ID: "1", Question: "Is fasting safe?"},
	}

	out := r.History(entries)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Equal(t, []string{
		"2024-05-02  Does caffeine help? (1 source)",
		"            Is fasting safe? (0 sources)",
	}, lines)
}

func TestEntry_FillsQuestion(t *testing.T) {
	e := history.Entry{
		Question: "Is fasting safe?",
		Answer:   research.Answer{Answer: history.Placeholder, BulletPoints: []string{}, Sources: []research.Source{}},
	}

	out := New(true).Entry(e)

	assert.Equal(t, "Is fasting safe?\n\n"+history.Placeholder+"\n", out)
}

func TestColorRendererKeepsText(t *testing.T) {
	out := New(false).Answer(&research.Answer{Question: "Q", Answer: "A"})
	assert.Contains(t, out, "Q")
	assert.Contains(t, out, "A")
}
