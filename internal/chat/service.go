// Package chat stores conversations with the scripture persona and runs the
// ask flow: entitlement check, usage consume, model call, persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kuitang/shastra/internal/ai"
	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/obs"
	"github.com/kuitang/shastra/internal/plans"
	"github.com/kuitang/shastra/internal/usage"
)

const (
	// HistoryWindow is how many prior messages are sent to the model.
	HistoryWindow = 20

	MaxQuestionLength = 4000
	MaxTitleLength    = 120
	DefaultTitle      = "New conversation"

	fallbackTitleRunes = 50
	listLimit          = 100
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service owns conversation storage and the ask flow.
type Service struct {
	store *db.Store
	usage *usage.Service
	ai    ai.Client
	clock Clock
}

func NewService(store *db.Store, usageSvc *usage.Service, client ai.Client) *Service {
	return &Service{store: store, usage: usageSvc, ai: client, clock: realClock{}}
}

// SetClock replaces the clock used by the service. Intended for testing.
func (s *Service) SetClock(c Clock) {
	s.clock = c
}

// Thread is a conversation together with its messages.
type Thread struct {
	db.Conversation
	Messages []db.Message `json:"messages"`
}

// AskInput is the chat-ask request body.
type AskInput struct {
	ConversationID string `json:"conversation_id"`
	Question       string `json:"question"`
	Category       string `json:"category"`
}

// AskResult is the chat-ask response body.
type AskResult struct {
	ConversationID    string     `json:"conversation_id"`
	UserMessage       db.Message `json:"user_message"`
	AssistantMessage  db.Message `json:"assistant_message"`
	Answer            string     `json:"answer"`
	AnswerHTML        string     `json:"answer_html"`
	Citations         []string   `json:"citations"`
	RemainingMessages int        `json:"remaining_messages"`
}

func (s *Service) CreateConversation(ctx context.Context, userID, title, category string) (*db.Conversation, error) {
	if category == "" {
		category = plans.BhagavadGita
	}
	if !plans.IsCategory(category) {
		return nil, errs.New(errs.InvalidArgument, "unknown category")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, errs.New(errs.InvalidArgument, "title too long")
	}

	now := s.clock.Now().Unix()
	c := db.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateConversation(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) ListConversations(ctx context.Context, userID string) ([]db.Conversation, error) {
	return s.store.ListConversations(ctx, userID, listLimit)
}

// GetConversation returns the thread with every message in order.
func (s *Service) GetConversation(ctx context.Context, userID, id string) (*Thread, error) {
	c, err := s.conversation(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &Thread{Conversation: *c, Messages: msgs}, nil
}

func (s *Service) RenameConversation(ctx context.Context, userID, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errs.New(errs.InvalidArgument, "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return errs.New(errs.InvalidArgument, "title too long")
	}
	err := s.store.RenameConversation(ctx, userID, id, title, s.clock.Now().Unix())
	if errors.Is(err, db.ErrNotFound) {
		return errs.New(errs.NotFound, "conversation not found")
	}
	return err
}

// DeleteConversation removes the thread; its messages go with it.
func (s *Service) DeleteConversation(ctx context.Context, userID, id string) error {
	err := s.store.DeleteConversation(ctx, userID, id)
	if errors.Is(err, db.ErrNotFound) {
		return errs.New(errs.NotFound, "conversation not found")
	}
	return err
}

func (s *Service) conversation(ctx context.Context, userID, id string) (*db.Conversation, error) {
	c, err := s.store.GetConversation(ctx, userID, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errs.New(errs.NotFound, "conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// Ask answers a question within a conversation, creating the conversation
// when no id is given. A message is consumed before the model is called and
// refunded if the call or the save fails, so failed requests never count.
func (s *Service) Ask(ctx context.Context, userID string, in AskInput) (*AskResult, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, errs.New(errs.InvalidArgument, "question is required")
	}
	if utf8.RuneCountInString(question) > MaxQuestionLength {
		return nil, errs.New(errs.InvalidArgument, "question too long")
	}

	var conv *db.Conversation
	if in.ConversationID != "" {
		c, err := s.conversation(ctx, userID, in.ConversationID)
		if err != nil {
			return nil, err
		}
		conv = c
	}
	category := in.Category
	if category == "" && conv != nil {
		category = conv.Category
	}
	if category == "" {
		category = plans.BhagavadGita
	}
	if !plans.IsCategory(category) {
		return nil, errs.New(errs.InvalidArgument, "unknown category")
	}

	tier, _, err := s.usage.Tier(ctx, userID)
	if err != nil {
		return nil, err
	}
	limits := plans.For(tier)
	ent := plans.Resolve(tier, plans.Usage{})
	if !ent.IsCategoryAllowed(category) {
		return nil, errs.New(errs.PaymentRequired,
			fmt.Sprintf("%s is not included in the %s plan", ai.CategoryName(category), limits.Name))
	}

	if err := s.usage.ConsumeMessage(ctx, userID, limits.MaxDailyMessages); err != nil {
		if errors.Is(err, usage.ErrLimitReached) {
			return nil, errs.Wrap(errs.ResourceExhausted, "daily message limit reached", err)
		}
		return nil, err
	}

	answer, err := s.answer(ctx, conv, question, category)
	if err != nil {
		s.refund(ctx, userID)
		obs.From(ctx).Warn("chat_ask_failed", "category", category, "err", err)
		return nil, errs.Wrap(errs.Unavailable, "the assistant is unavailable, please try again", err)
	}

	now := s.clock.Now()
	if conv == nil {
		conv = &db.Conversation{
			ID:        uuid.NewString(),
			UserID:    userID,
			Title:     DefaultTitle,
			Category:  category,
			CreatedAt: now.Unix(),
			UpdatedAt: now.Unix(),
		}
	}
	userMsg := NewUserMessage(conv.ID, question, now)
	asstMsg := NewAssistantMessage(conv.ID, answer.Answer, answer.Citations, now)

	err = s.store.InTx(ctx, func(q *db.Queries) error {
		if in.ConversationID == "" {
			if err := q.CreateConversation(ctx, *conv); err != nil {
				return err
			}
		}
		pos, err := q.NextMessagePosition(ctx, conv.ID)
		if err != nil {
			return fmt.Errorf("next position: %w", err)
		}
		userMsg.Position = pos
		asstMsg.Position = pos + 1
		if err := q.InsertMessage(ctx, userMsg); err != nil {
			return err
		}
		if err := q.InsertMessage(ctx, asstMsg); err != nil {
			return err
		}
		return q.TouchConversation(ctx, conv.ID, now.Unix())
	})
	if err != nil {
		s.refund(ctx, userID)
		return nil, fmt.Errorf("persist messages: %w", err)
	}

	snap, err := s.usage.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &AskResult{
		ConversationID:    conv.ID,
		UserMessage:       userMsg,
		AssistantMessage:  asstMsg,
		Answer:            answer.Answer,
		AnswerHTML:        RenderMarkdown(answer.Answer),
		Citations:         asstMsg.Citations,
		RemainingMessages: snap.Entitlements.RemainingMessages,
	}, nil
}

func (s *Service) answer(ctx context.Context, conv *db.Conversation, question, category string) (*ai.Answer, error) {
	var history []ai.Turn
	if conv != nil {
		recent, err := s.store.ListRecentMessages(ctx, conv.ID, HistoryWindow)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		for _, m := range recent {
			history = append(history, ai.Turn{Role: m.Role, Content: m.Content})
		}
	}
	return s.ai.Ask(ctx, ai.AskRequest{Question: question, Category: category, History: history})
}

// GenerateTitle asks the model for a short title based on the first message
// and stores it when a conversation id is given. Model failures fall back to
// a truncated copy of the message.
func (s *Service) GenerateTitle(ctx context.Context, userID, conversationID, firstMessage string) (string, error) {
	firstMessage = strings.TrimSpace(firstMessage)
	if firstMessage == "" {
		return "", errs.New(errs.InvalidArgument, "message is required")
	}
	if conversationID != "" {
		if _, err := s.conversation(ctx, userID, conversationID); err != nil {
			return "", err
		}
	}

	title, err := s.ai.GenerateTitle(ctx, firstMessage)
	if err != nil || strings.TrimSpace(title) == "" {
		if err != nil {
			obs.From(ctx).Warn("chat_title_fallback", "err", err)
		}
		title = FallbackTitle(firstMessage)
	}

	if conversationID != "" {
		if err := s.store.RenameConversation(ctx, userID, conversationID, title, s.clock.Now().Unix()); err != nil {
			return "", fmt.Errorf("store title: %w", err)
		}
	}
	return title, nil
}

// FallbackTitle truncates a message to a title-sized prefix.
func FallbackTitle(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	r := []rune(msg)
	if len(r) <= fallbackTitleRunes {
		return msg
	}
	return strings.TrimSpace(string(r[:fallbackTitleRunes])) + "..."
}

func (s *Service) refund(ctx context.Context, userID string) {
	if err := s.usage.RefundMessage(ctx, userID); err != nil {
		log.Printf("[CHAT] Failed to refund message for user %s: %v", userID, err)
	}
}
