package ai

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// MockClient returns canned replies for --no-ai and tests. Setting Err makes
// every call fail with it.
type MockClient struct {
	mu    sync.Mutex
	Err   error
	Calls int
	// LastAsk records the most recent Ask request.
	LastAsk AskRequest
}

func NewMockClient() *MockClient {
	log.Println("[AI] Using mock AI client (--no-ai)")
	return &MockClient{}
}

func (m *MockClient) record() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	return m.Err
}

func (m *MockClient) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	if err := m.record(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.LastAsk = req
	m.mu.Unlock()
	return &Answer{
		Answer:    fmt.Sprintf("**%s** teaches us to reflect on: %s", CategoryName(req.Category), req.Question),
		Citations: []string{"Bhagavad Gita 2.47"},
	}, nil
}

func (m *MockClient) GenerateQuiz(ctx context.Context, req QuizRequest) (*GeneratedQuiz, error) {
	if err := m.record(); err != nil {
		return nil, err
	}
	q := &GeneratedQuiz{Title: "Quiz on " + CategoryName(req.Category)}
	for i := 0; i < req.Count; i++ {
		q.Questions = append(q.Questions, GeneratedQuestion{
			Question:     fmt.Sprintf("Sample question %d about %s?", i+1, CategoryName(req.Category)),
			Options:      []string{"Dharma", "Artha", "Kama", "Moksha"},
			CorrectIndex: i % 4,
			Explanation:  "The four purusharthas.",
		})
	}
	return q, nil
}

func (m *MockClient) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	if err := m.record(); err != nil {
		return "", err
	}
	return CleanTitle(firstMessage, maxTitleRunes), nil
}
