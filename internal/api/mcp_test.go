package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/goleak"

	"github.com/kalambet/sciask/internal/research"
	"github.com/kalambet/sciask/internal/upstream"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func newTestMCPDeps(up *fakeUpstream) MCPDeps {
	return MCPDeps{
		Framer:  NewFramer(up, nil),
		History: up,
		UserID:  "mcp",
	}
}

const historyDoc = `{"queries":[
	{"id":1,"question":"Is fasting safe?","answer":"Legacy text\n\nSources:\n* [Fasting trial](https://b.example) (2020)","created_at":"2024-01-01T00:00:00Z"},
	{"id":2,"question":"Does caffeine improve focus?","answer":{"answer":"Modestly.","documents":[{"title":"T","content":"C","url":"https://a.example"}]},"created_at":"2024-05-02T00:00:00Z"}
]}`

func TestMCPAskQuestion(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	up := &fakeUpstream{askFn: streamOf(answerFrames)}
	handler := mcpAskQuestion(newTestMCPDeps(up))

	result, err := handler(context.Background(), makeCallToolRequest("ask_question", map[string]interface{}{
		"question": " Does it work? ",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var answer research.Answer
	if err := json.Unmarshal([]byte(toolText(t, result)), &answer); err != nil {
		t.Fatalf("decoding answer: %v", err)
	}
	if answer.Question != "Does it work?" || answer.Answer != "Yes." {
		t.Errorf("answer = %+v", answer)
	}
	if len(answer.Sources) != 1 || answer.Sources[0].URL != "https://a.example" {
		t.Errorf("sources = %+v, want one https://a.example", answer.Sources)
	}
	if up.gotUserID != "mcp" {
		t.Errorf("user = %q, want mcp", up.gotUserID)
	}
}

func TestMCPAskQuestion_UpstreamError(t *testing.T) {
	up := &fakeUpstream{askFn: failWith(upstream.ErrUnavailable)}
	handler := mcpAskQuestion(newTestMCPDeps(up))

	result, err := handler(context.Background(), makeCallToolRequest("ask_question", map[string]interface{}{
		"question": "q",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if got := toolText(t, result); got != unavailableMessage {
		t.Errorf("text = %q, want %q", got, unavailableMessage)
	}
}

func TestMCPAskQuestion_MissingQuestion(t *testing.T) {
	handler := mcpAskQuestion(newTestMCPDeps(&fakeUpstream{}))

	for _, args := range []map[string]interface{}{{}, {"question": "   "}} {
		result, err := handler(context.Background(), makeCallToolRequest("ask_question", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected tool error", args)
		}
	}
}

func TestMCPListHistory(t *testing.T) {
	up := &fakeUpstream{historyFn: func(context.Context, string) ([]byte, error) {
		return []byte(historyDoc), nil
	}}
	handler := mcpListHistory(newTestMCPDeps(up))

	result, err := handler(context.Background(), makeCallToolRequest("list_history", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var got []historySummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].ID != "2" || got[1].ID != "1" {
		t.Errorf("order = [%s %s], want newest first [2 1]", got[0].ID, got[1].ID)
	}
	if got[0].AskedAt != "2024-05-02T00:00:00Z" {
		t.Errorf("asked_at = %q", got[0].AskedAt)
	}
	if got[1].Answer != "Legacy text" || got[1].Sources != 1 {
		t.Errorf("legacy entry = %+v, want normalized answer with 1 source", got[1])
	}
}

func TestMCPListHistory_Search(t *testing.T) {
	up := &fakeUpstream{historyFn: func(context.Context, string) ([]byte, error) {
		return []byte(historyDoc), nil
	}}
	handler := mcpListHistory(newTestMCPDeps(up))

	result, err := handler(context.Background(), makeCallToolRequest("list_history", map[string]interface{}{
		"search": "CAFFEINE",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []historySummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if len(got) != 1 || got[0].ID != "2" {
		t.Errorf("got %+v, want only entry 2", got)
	}
}

func TestMCPListHistory_Errors(t *testing.T) {
	tests := map[string][]byte{
		"upstream": nil,
		"format":   []byte(`{"items":[]}`),
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			up := &fakeUpstream{historyFn: func(context.Context, string) ([]byte, error) {
				if body == nil {
					return nil, errors.New("backend down")
				}
				return body, nil
			}}
			handler := mcpListHistory(newTestMCPDeps(up))

			result, err := handler(context.Background(), makeCallToolRequest("list_history", nil))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Error("expected tool error")
			}
			if !strings.HasPrefix(toolText(t, result), "failed to fetch history") {
				t.Errorf("text = %q", toolText(t, result))
			}
		})
	}
}

func TestMCPResourceRecent(t *testing.T) {
	up := &fakeUpstream{historyFn: func(context.Context, string) ([]byte, error) {
		return []byte(historyDoc), nil
	}}
	handler := mcpResourceRecent(newTestMCPDeps(up))

	contents, err := handler(context.Background(), makeReadResourceRequest("history://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "history://recent" || tc.MIMEType != "application/json" {
		t.Errorf("contents = %+v", tc)
	}
	if !strings.Contains(tc.Text, "Does caffeine improve focus?") {
		t.Errorf("text = %q", tc.Text)
	}
}

func TestSummarize_TruncatesLongAnswers(t *testing.T) {
	up := &fakeUpstream{historyFn: func(context.Context, string) ([]byte, error) {
		long := strings.Repeat("é", 250)
		return []byte(`{"queries":[{"id":"x","question":"q","answer":{"answer":"` + long + `"}}]}`), nil
	}}
	handler := mcpListHistory(newTestMCPDeps(up))

	result, _ := handler(context.Background(), makeCallToolRequest("list_history", nil))
	var got []historySummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if want := strings.Repeat("é", 200) + "..."; got[0].Answer != want {
		t.Errorf("answer has %d runes, want 203", len([]rune(got[0].Answer)))
	}
	if got[0].AskedAt != "" {
		t.Errorf("asked_at = %q, want empty for an undated item", got[0].AskedAt)
	}
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(newTestMCPDeps(&fakeUpstream{}))
	if s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
