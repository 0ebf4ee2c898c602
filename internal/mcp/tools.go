package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

// Tool names.
const (
	ToolScriptureAsk = "scripture_ask"
	ToolQuizGenerate = "quiz_generate"
	ToolQuizSubmit   = "quiz_submit"
	ToolUsageGet     = "usage_get"
)

var categoryEnum = []string{"bhagavad_gita", "ramayana", "mahabharata", "upanishads", "vedas", "puranas"}

// ToolDefinitions returns the tools mounted on /mcp.
func ToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        ToolScriptureAsk,
			Description: "Ask a question about Hindu scripture. The answer is grounded in the chosen text and cites verses where possible. Each call counts against the user's daily message allowance; pass conversation_id to continue an earlier conversation so prior turns are used as context. Returns the answer, citations, the conversation_id, and remaining_messages (-1 means unlimited).",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{
						"type":        "string",
						"description": "The question to ask (required)",
					},
					"category": map[string]any{
						"type":        "string",
						"enum":        categoryEnum,
						"description": "Scripture to answer from. Defaults to the conversation's category, else bhagavad_gita. Some categories need a paid plan.",
					},
					"conversation_id": map[string]any{
						"type":        "string",
						"description": "Existing conversation to continue (optional)",
					},
				},
				"required":             []string{"question"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolQuizGenerate,
			Description: "Generate a multiple-choice quiz on a scripture. Counts against the user's quiz allowance. Answers are hidden until the quiz is submitted with quiz_submit. Returns the quiz id, questions with options, and remaining_quizzes.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{
						"type":        "string",
						"enum":        categoryEnum,
						"description": "Scripture the quiz covers (required)",
					},
					"difficulty": map[string]any{
						"type":        "string",
						"enum":        []string{"easy", "medium", "hard"},
						"description": "Defaults to medium",
					},
					"count": map[string]any{
						"type":        "integer",
						"minimum":     3,
						"maximum":     10,
						"description": "Number of questions (default 5)",
					},
					"topic": map[string]any{
						"type":        "string",
						"description": "Optional focus, e.g. a chapter or character",
					},
				},
				"required":             []string{"category"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolQuizSubmit,
			Description: "Submit answers for a quiz created with quiz_generate. answers holds one zero-based option index per question in order; use -1 to skip. Returns per-question correctness with explanations and the user's updated progress.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"quiz_id": map[string]any{
						"type":        "string",
						"description": "The quiz to submit (required)",
					},
					"answers": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "integer", "minimum": -1},
						"description": "Chosen option index per question (required)",
					},
				},
				"required":             []string{"quiz_id", "answers"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolUsageGet,
			Description: "Show the user's plan, today's message count, quizzes created, and remaining allowances. Does not consume anything.",
			InputSchema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
	}
}
