package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/shastra/internal/plans"
)

const studyPromptName = "scripture_study"

func registerPrompts(server *mcp.Server) {
	for _, prompt := range PromptDefinitions() {
		server.AddPrompt(prompt, studyPromptHandler)
	}
}

// PromptDefinitions returns the prompts mounted on /mcp.
func PromptDefinitions() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        studyPromptName,
			Title:       "Scripture study session",
			Description: "Guided study: ask questions about a text, then check understanding with a quiz.",
			Arguments: []*mcp.PromptArgument{
				{Name: "category", Description: "Scripture to study, e.g. bhagavad_gita"},
				{Name: "topic", Description: "Optional chapter, character or theme"},
			},
		},
	}
}

func studyPromptHandler(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	var args map[string]string
	if req != nil && req.Params != nil {
		args = req.Params.Arguments
	}
	text := studyPromptText(args["category"], args["topic"])
	return &mcp.GetPromptResult{
		Description: "Scripture study session",
		Messages: []*mcp.PromptMessage{
			{Role: mcp.Role("user"), Content: &mcp.TextContent{Text: text}},
		},
	}, nil
}

func studyPromptText(category, topic string) string {
	category = strings.TrimSpace(category)
	if !plans.IsCategory(category) {
		category = plans.BhagavadGita
	}
	focus := ""
	if t := strings.TrimSpace(topic); t != "" {
		focus = fmt.Sprintf(" focusing on %s", t)
	}
	return fmt.Sprintf("Help me study the %s%s. Use %s with category %q to answer my questions and keep the conversation_id so follow-ups stay in context. "+
		"When I say I'm ready, create a short quiz with %s, show me the questions without the answers, then grade my answers with %s. "+
		"If a tool reports resource_exhausted, check %s and tell me what my plan allows.",
		strings.ReplaceAll(category, "_", " "), focus, ToolScriptureAsk, category, ToolQuizGenerate, ToolQuizSubmit, ToolUsageGet)
}
