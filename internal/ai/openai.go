package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/kuitang/shastra/internal/obs"
)

const (
	// DefaultModel is used when OPENAI_MODEL is unset.
	DefaultModel = "gpt-5-mini"

	requestTimeout = 60 * time.Second
	maxTitleRunes  = 60
)

// OpenAIConfig configures OpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for proxies and tests
}

// OpenAIClient implements Client with the OpenAI Responses API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

func NewOpenAIClient(cfg OpenAIConfig, opts ...option.RequestOption) *OpenAIClient {
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIClient{client: openai.NewClient(reqOpts...), model: model}
}

func (c *OpenAIClient) complete(ctx context.Context, op, instructions, input string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:        shared.ResponsesModel(c.model),
		Instructions: openai.String(instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(input),
		},
	})
	logger := obs.From(ctx).With("op", op, "model", c.model, "dur_ms", time.Since(start).Milliseconds())
	if err != nil {
		logger.Warn("openai_request_failed", "error", err)
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		logger.Warn("openai_empty_output", "response_id", resp.ID)
		return "", fmt.Errorf("%w: %s: empty output", ErrUnavailable, op)
	}
	logger.Debug("openai_request", "response_id", resp.ID, "output_chars", len(text))
	return text, nil
}

func (c *OpenAIClient) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	text, err := c.complete(ctx, "ask", personaInstructions, askInput(req))
	if err != nil {
		return nil, err
	}
	return ParseAnswer(text), nil
}

func (c *OpenAIClient) GenerateQuiz(ctx context.Context, req QuizRequest) (*GeneratedQuiz, error) {
	text, err := c.complete(ctx, "quiz", quizInstructions, quizInput(req))
	if err != nil {
		return nil, err
	}
	return ParseQuiz(text)
}

func (c *OpenAIClient) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	text, err := c.complete(ctx, "title", titleInstructions, firstMessage)
	if err != nil {
		return "", err
	}
	title := CleanTitle(text, maxTitleRunes)
	if title == "" {
		return "", fmt.Errorf("%w: title: blank", ErrUnavailable)
	}
	return title, nil
}
