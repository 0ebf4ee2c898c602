package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/shastra/internal/db"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// NewUserMessage builds a user message with a fresh id and timestamp.
func NewUserMessage(conversationID, content string, at time.Time) db.Message {
	return db.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
		Citations:      []string{},
		CreatedAt:      at.Unix(),
	}
}

// NewAssistantMessage builds an assistant reply with a fresh id and timestamp.
func NewAssistantMessage(conversationID, content string, citations []string, at time.Time) db.Message {
	if citations == nil {
		citations = []string{}
	}
	return db.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Content:        content,
		Citations:      citations,
		CreatedAt:      at.Unix(),
	}
}
