package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/khanflow/assistant/internal/conversation"
	"github.com/khanflow/assistant/internal/prefs"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Manager *conversation.Manager
	Prefs   *prefs.Manager
}

// NewMCPServer creates an MCP server exposing the capture assistant as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"khanflow",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("khanflow — conversational capture of tasks, events and recurring tasks into the user's productivity apps."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("capture",
			mcp.WithDescription("Start a new capture conversation with an initial utterance. Returns the conversation id and the assistant's reply (a clarification question or a confirmation)."),
			mcp.WithString("user_id", mcp.Description("Identifier of the user speaking"), mcp.Required()),
			mcp.WithString("utterance", mcp.Description("What the user said"), mcp.Required()),
			mcp.WithString("timezone", mcp.Description("IANA timezone for date resolution (e.g. Europe/Amsterdam)")),
		),
		mcpCapture(deps),
	)

	s.AddTool(
		mcp.NewTool("reply",
			mcp.WithDescription("Send the user's next utterance to an ongoing capture conversation."),
			mcp.WithString("conversation_id", mcp.Description("Conversation to advance"), mcp.Required()),
			mcp.WithString("utterance", mcp.Description("What the user said"), mcp.Required()),
		),
		mcpReply(deps),
	)

	s.AddTool(
		mcp.NewTool("list_conversations",
			mcp.WithDescription("List recent capture conversations, newest first."),
			mcp.WithString("user_id", mcp.Description("Filter by user")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListConversations(deps),
	)

	s.AddTool(
		mcp.NewTool("show_conversation",
			mcp.WithDescription("Show a conversation's state and full message log."),
			mcp.WithString("conversation_id", mcp.Description("Conversation to show"), mcp.Required()),
		),
		mcpShowConversation(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"user://preferences",
			"User Preferences",
			mcp.WithResourceDescription("Stored capture preferences (timezone, task app, calendar app) as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePreferences(deps),
	)

	return s
}

func mcpCapture(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		utterance, err := req.RequireString("utterance")
		if err != nil {
			return mcpError("utterance is required"), nil
		}

		convCtx := conversation.Context{
			UserTimezone: req.GetString("timezone", ""),
		}
		if p, err := deps.Prefs.Get(); err == nil {
			if convCtx.UserTimezone == "" {
				convCtx.UserTimezone = p.Timezone
			}
			convCtx.PreferredTaskApp = p.TaskApp
			convCtx.PreferredCalendarApp = p.CalendarApp
		}

		c, err := deps.Manager.Create(ctx, userID, convCtx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start conversation: %v", err)), nil
		}

		turn, err := deps.Manager.Advance(ctx, c.ID, utterance)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to process utterance: %v", err)), nil
		}

		return mcpJSON(turn)
	}
}

func mcpReply(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		utterance, err := req.RequireString("utterance")
		if err != nil {
			return mcpError("utterance is required"), nil
		}

		turn, err := deps.Manager.Advance(ctx, id, utterance)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to process utterance: %v", err)), nil
		}

		return mcpJSON(turn)
	}
}

func mcpListConversations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := req.GetString("user_id", "")
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		convs, err := deps.Manager.List(ctx, userID, limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list conversations: %v", err)), nil
		}

		type convSummary struct {
			ID          string `json:"id"`
			UserID      string `json:"user_id"`
			Status      string `json:"status"`
			CurrentStep string `json:"current_step"`
			IntentType  string `json:"intent_type,omitempty"`
			CreatedAt   string `json:"created_at"`
		}

		summaries := make([]convSummary, len(convs))
		for i, c := range convs {
			summaries[i] = convSummary{
				ID:          c.ID,
				UserID:      c.UserID,
				Status:      c.Status,
				CurrentStep: c.CurrentStep,
				IntentType:  c.IntentType,
				CreatedAt:   c.CreatedAt.Format(time.RFC3339),
			}
		}

		return mcpJSON(summaries)
	}
}

func mcpShowConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}

		snap, err := deps.Manager.Get(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get conversation: %v", err)), nil
		}

		var b strings.Builder
		c := snap.Conversation
		fmt.Fprintf(&b, "Conversation %s (%s, step %s)\n", c.ID, c.Status, c.CurrentStep)
		if c.IntentType != "" {
			fmt.Fprintf(&b, "Intent: %s\n", c.IntentType)
		}
		for _, m := range snap.Messages {
			content := m.Content
			if utf8.RuneCountInString(content) > 500 {
				runes := []rune(content)
				content = string(runes[:500]) + "..."
			}
			fmt.Fprintf(&b, "[%s] %s\n", m.Role, content)
		}

		return mcpText(b.String()), nil
	}
}

func mcpResourcePreferences(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Prefs.Get()
		if err != nil {
			return nil, fmt.Errorf("failed to get preferences: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal preferences: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
