package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/sciask/internal/history"
	"github.com/kalambet/sciask/internal/research"
	"github.com/kalambet/sciask/internal/sse"
)

// HistorySource returns the raw history document for a user.
type HistorySource interface {
	History(ctx context.Context, userID string) ([]byte, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Framer  *Framer
	History HistorySource
	// UserID is the identity every MCP call runs as.
	UserID string
}

// NewMCPServer creates an MCP server exposing the research pipeline and the
// user's question history.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"sciask",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sciask answers scientific questions from the research literature, citing the papers it used."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_question",
			mcp.WithDescription("Answer a scientific question from the research literature. Returns the answer, key points and cited sources as JSON."),
			mcp.WithString("question", mcp.Description("The scientific question to research"), mcp.Required()),
		),
		mcpAskQuestion(deps),
	)

	s.AddTool(
		mcp.NewTool("list_history",
			mcp.WithDescription("List previously asked questions, newest first."),
			mcp.WithString("search", mcp.Description("Only include questions containing this text (case-insensitive)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"history://recent",
			"Recent Questions",
			mcp.WithResourceDescription("Last 10 asked questions (answers truncated)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

// Streamer returns a research.Streamer that runs Relay in-process for
// userID, so the answer stream never leaves the process.
func (f *Framer) Streamer(userID string) research.Streamer {
	return research.StreamerFunc(func(ctx context.Context, question string) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go f.Relay(ctx, pw, question, userID)
		return pr, nil
	})
}

func mcpAskQuestion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		question = strings.TrimSpace(question)
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		body, err := deps.Framer.Streamer(deps.UserID).Open(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		defer body.Close()

		state, err := research.Fold(question, sse.NewReader(body).All())
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		if state.Phase == research.PhaseErrored {
			return mcpError(state.Error), nil
		}

		b, err := json.Marshal(state.Answer)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

type historySummary struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	AskedAt  string `json:"asked_at,omitempty"`
	Answer   string `json:"answer"`
	Sources  int    `json:"sources"`
}

func summarize(entries []history.Entry) []historySummary {
	out := make([]historySummary, len(entries))
	for i, e := range entries {
		answer := e.Answer.Answer
		if utf8.RuneCountInString(answer) > 200 {
			runes := []rune(answer)
			answer = string(runes[:200]) + "..."
		}
		out[i] = historySummary{
			ID:       e.ID,
			Question: e.Question,
			Answer:   answer,
			Sources:  len(e.Answer.Sources),
		}
		if !e.Time.IsZero() {
			out[i].AskedAt = e.Time.UTC().Format(time.RFC3339)
		}
	}
	return out
}

func loadItems(ctx context.Context, deps MCPDeps) ([]history.Item, error) {
	raw, err := deps.History.History(ctx, deps.UserID)
	if err != nil {
		return nil, err
	}
	return history.Decode(bytes.NewReader(raw))
}

func mcpListHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		search := req.GetString("search", "")
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		items, err := loadItems(ctx, deps)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to fetch history: %v", err)), nil
		}
		items = history.Filter(items, search)
		if len(items) > limit {
			items = items[:limit]
		}

		b, err := json.Marshal(summarize(history.NormalizeAll(items)))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		items, err := loadItems(ctx, deps)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch history: %w", err)
		}
		if len(items) > 10 {
			items = items[:10]
		}

		b, err := json.Marshal(summarize(history.NormalizeAll(items)))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
