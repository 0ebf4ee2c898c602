// Package ai talks to the language model that answers scripture questions,
// writes quizzes, and titles conversations.
package ai

import (
	"context"
	"errors"
)

// ErrUnavailable wraps any failure to obtain a usable completion.
var ErrUnavailable = errors.New("ai unavailable")

// Turn is one prior chat message given to the model as context.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

type AskRequest struct {
	Question string
	Category string
	History  []Turn
}

// Answer is the structured reply of the scripture persona.
type Answer struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
}

type QuizRequest struct {
	Category   string
	Difficulty string
	Count      int
	Topic      string
}

type GeneratedQuestion struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation"`
}

type GeneratedQuiz struct {
	Title     string              `json:"title"`
	Questions []GeneratedQuestion `json:"questions"`
}

// Client is implemented by OpenAIClient and MockClient.
type Client interface {
	Ask(ctx context.Context, req AskRequest) (*Answer, error)
	GenerateQuiz(ctx context.Context, req QuizRequest) (*GeneratedQuiz, error)
	GenerateTitle(ctx context.Context, firstMessage string) (string, error)
}
