package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/shastra/internal/chat"
	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/quiz"
	"github.com/kuitang/shastra/internal/usage"
)

// Handler implements MCP tool calls on behalf of one user at a time.
type Handler struct {
	chat  *chat.Service
	quiz  *quiz.Service
	usage *usage.Service
}

// NewHandler creates a tool handler. Nil services make their tools report
// unavailable.
func NewHandler(chatSvc *chat.Service, quizSvc *quiz.Service, usageSvc *usage.Service) *Handler {
	return &Handler{chat: chatSvc, quiz: quizSvc, usage: usageSvc}
}

// toolErrorPayload is the JSON body of an IsError tool result.
type toolErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type askArgs struct {
	Question       string `json:"question"`
	Category       string `json:"category,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type submitArgs struct {
	QuizID  string `json:"quiz_id"`
	Answers []int  `json:"answers"`
}

// createToolHandler binds a tool to userID.
func (h *Handler) createToolHandler(name, userID string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.HandleToolCall(ctx, userID, name, args)
		if err != nil {
			return toolError(err), nil, nil
		}
		return result, nil, nil
	}
}

// HandleToolCall routes a tool call. Failures come back as coded errors.
func (h *Handler) HandleToolCall(ctx context.Context, userID, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if userID == "" {
		return nil, errs.New(errs.Unauthenticated, "sign in to use scripture tools")
	}
	switch name {
	case ToolScriptureAsk:
		return h.handleAsk(ctx, userID, args)
	case ToolQuizGenerate:
		return h.handleQuizGenerate(ctx, userID, args)
	case ToolQuizSubmit:
		return h.handleQuizSubmit(ctx, userID, args)
	case ToolUsageGet:
		return h.handleUsage(ctx, userID, args)
	default:
		return nil, errs.New(errs.NotFound, fmt.Sprintf("unknown tool: %s", name))
	}
}

func (h *Handler) handleAsk(ctx context.Context, userID string, raw map[string]any) (*mcp.CallToolResult, error) {
	if h.chat == nil {
		return nil, errs.New(errs.Unavailable, "chat is unavailable on this endpoint")
	}
	var args askArgs
	if err := decodeToolArgs(raw, &args); err != nil {
		return nil, err
	}
	res, err := h.chat.Ask(ctx, userID, chat.AskInput{
		ConversationID: args.ConversationID,
		Question:       args.Question,
		Category:       args.Category,
	})
	if err != nil {
		return nil, err
	}
	return newToolResultText(marshalToolJSON(struct {
		ConversationID    string   `json:"conversation_id"`
		Answer            string   `json:"answer"`
		Citations         []string `json:"citations"`
		RemainingMessages int      `json:"remaining_messages"`
	}{res.ConversationID, res.Answer, res.Citations, res.RemainingMessages})), nil
}

func (h *Handler) handleQuizGenerate(ctx context.Context, userID string, raw map[string]any) (*mcp.CallToolResult, error) {
	if h.quiz == nil {
		return nil, errs.New(errs.Unavailable, "quizzes are unavailable on this endpoint")
	}
	var args quiz.GenerateInput
	if err := decodeToolArgs(raw, &args); err != nil {
		return nil, err
	}
	res, err := h.quiz.Generate(ctx, userID, args)
	if err != nil {
		return nil, err
	}
	return newToolResultText(marshalToolJSON(res)), nil
}

func (h *Handler) handleQuizSubmit(ctx context.Context, userID string, raw map[string]any) (*mcp.CallToolResult, error) {
	if h.quiz == nil {
		return nil, errs.New(errs.Unavailable, "quizzes are unavailable on this endpoint")
	}
	var args submitArgs
	if err := decodeToolArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.QuizID == "" {
		return nil, errs.New(errs.InvalidArgument, "quiz_id is required")
	}
	res, err := h.quiz.Submit(ctx, userID, args.QuizID, args.Answers)
	if err != nil {
		return nil, err
	}
	return newToolResultText(marshalToolJSON(res)), nil
}

func (h *Handler) handleUsage(ctx context.Context, userID string, raw map[string]any) (*mcp.CallToolResult, error) {
	if h.usage == nil {
		return nil, errs.New(errs.Unavailable, "usage is unavailable on this endpoint")
	}
	var none struct{}
	if err := decodeToolArgs(raw, &none); err != nil {
		return nil, err
	}
	snap, err := h.usage.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return newToolResultText(marshalToolJSON(snap)), nil
}

// decodeToolArgs strictly decodes tool arguments into dst. Unknown fields
// and type mismatches are InvalidArgument.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "arguments must be a JSON object", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidArgument, fmt.Sprintf("invalid arguments: %v", err), err)
	}
	return nil
}

// toolError renders err as an IsError result carrying its code. Internal
// details are logged, not returned.
func toolError(err error) *mcp.CallToolResult {
	code := errs.CodeOf(err)
	msg := errs.MessageOf(err)
	if code == errs.Internal {
		log.Printf("[MCP] Tool call failed: %v", err)
	}
	if code == errs.ResourceExhausted {
		msg += ". Upgrade your plan for a higher allowance."
	}
	return newToolResultError(marshalToolJSON(toolErrorPayload{Code: string(code), Message: msg}))
}

func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func newToolResultError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}
