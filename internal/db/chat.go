package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Conversation is a chat thread owned by one user.
type Conversation struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	Category  string `json:"category"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Message is one turn in a conversation.
type Message struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	Position       int      `json:"position"`
	Role           string   `json:"role"`
	Content        string   `json:"content"`
	Citations      []string `json:"citations"`
	CreatedAt      int64    `json:"created_at"`
}

const conversationColumns = `id, user_id, title, category, created_at, updated_at`

func (q *Queries) CreateConversation(ctx context.Context, c Conversation) error {
	_, err := q.exec(ctx,
		`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.Category, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation is scoped to the owner; other users' rows are ErrNotFound.
func (q *Queries) GetConversation(ctx context.Context, userID, id string) (*Conversation, error) {
	var c Conversation
	err := q.queryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&c.ID, &c.UserID, &c.Title, &c.Category, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns the user's threads, most recently active first.
func (q *Queries) ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	rows, err := q.query(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE user_id = ? ORDER BY updated_at DESC, id LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Category, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) RenameConversation(ctx context.Context, userID, id, title string, at int64) error {
	res, err := q.exec(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		title, at, id, userID)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (q *Queries) TouchConversation(ctx context.Context, id string, at int64) error {
	_, err := q.exec(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, at, id)
	return err
}

// DeleteConversation removes the thread; messages go with it via ON DELETE CASCADE.
func (q *Queries) DeleteConversation(ctx context.Context, userID, id string) error {
	res, err := q.exec(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// NextMessagePosition returns the position the next appended message should take.
func (q *Queries) NextMessagePosition(ctx context.Context, conversationID string) (int, error) {
	var pos int
	err := q.queryRow(ctx,
		`SELECT COALESCE(MAX(position), 0) + 1 FROM messages WHERE conversation_id = ?`, conversationID).Scan(&pos)
	return pos, err
}

func (q *Queries) InsertMessage(ctx context.Context, m Message) error {
	citations := m.Citations
	if citations == nil {
		citations = []string{}
	}
	raw, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("encode citations: %w", err)
	}
	_, err = q.exec(ctx, `
INSERT INTO messages (id, conversation_id, position, role, content, citations, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Position, m.Role, m.Content, string(raw), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns all messages in order.
func (q *Queries) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	return q.scanMessages(q.query(ctx, `
SELECT id, conversation_id, position, role, content, citations, created_at
FROM messages WHERE conversation_id = ? ORDER BY position`, conversationID))
}

// ListRecentMessages returns the last n messages, oldest first.
func (q *Queries) ListRecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error) {
	msgs, err := q.scanMessages(q.query(ctx, `
SELECT id, conversation_id, position, role, content, citations, created_at
FROM messages WHERE conversation_id = ? ORDER BY position DESC LIMIT ?`, conversationID, n))
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (q *Queries) scanMessages(rows *sql.Rows, err error) ([]Message, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m   Message
			raw string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Position, &m.Role, &m.Content, &raw, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &m.Citations); err != nil {
			m.Citations = []string{}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessagesSince counts user-authored messages created at or after since.
func (q *Queries) CountMessagesSince(ctx context.Context, since int64) (int64, error) {
	var n int64
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM messages WHERE role = 'user' AND created_at >= ?`, since).Scan(&n)
	return n, err
}
