package db

import (
	"context"
	"database/sql"
	"errors"
)

// Usage is a user's counter row. MessagesResetDate is a UTC YYYY-MM-DD day;
// MessagesSentToday only counts for that day.
type Usage struct {
	UserID            string `json:"user_id"`
	MessagesSentToday int    `json:"messages_sent_today"`
	MessagesResetDate string `json:"messages_reset_date"`
	QuizzesCreated    int    `json:"quizzes_created"`
	UpdatedAt         int64  `json:"updated_at"`
}

// EnsureUsage creates a zeroed row for today if none exists.
func (q *Queries) EnsureUsage(ctx context.Context, userID, today string, at int64) error {
	_, err := q.exec(ctx, `
INSERT INTO user_usage (user_id, messages_sent_today, messages_reset_date, quizzes_created, updated_at)
VALUES (?, 0, ?, 0, ?)
ON CONFLICT (user_id) DO NOTHING`, userID, today, at)
	return err
}

// ResetStaleUsage zeroes the daily counter when the stored day is not today.
func (q *Queries) ResetStaleUsage(ctx context.Context, userID, today string, at int64) error {
	_, err := q.exec(ctx, `
UPDATE user_usage SET messages_sent_today = 0, messages_reset_date = ?, updated_at = ?
WHERE user_id = ? AND messages_reset_date <> ?`, today, at, userID, today)
	return err
}

func (q *Queries) GetUsage(ctx context.Context, userID string) (*Usage, error) {
	var u Usage
	err := q.queryRow(ctx, `
SELECT user_id, messages_sent_today, messages_reset_date, quizzes_created, updated_at
FROM user_usage WHERE user_id = ?`, userID).
		Scan(&u.UserID, &u.MessagesSentToday, &u.MessagesResetDate, &u.QuizzesCreated, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ConsumeMessage atomically counts one message for today. A stale day is
// rolled over in the same statement. When limit >= 0 the increment only
// happens if the current count is below limit; the return value reports
// whether a message was counted. limit < 0 means unlimited.
func (q *Queries) ConsumeMessage(ctx context.Context, userID, today string, limit int, at int64) (bool, error) {
	if limit == 0 {
		return false, nil
	}
	query := `
INSERT INTO user_usage (user_id, messages_sent_today, messages_reset_date, quizzes_created, updated_at)
VALUES (?, 1, ?, 0, ?)
ON CONFLICT (user_id) DO UPDATE SET
    messages_sent_today = CASE
        WHEN user_usage.messages_reset_date = excluded.messages_reset_date THEN user_usage.messages_sent_today + 1
        ELSE 1
    END,
    messages_reset_date = excluded.messages_reset_date,
    updated_at = excluded.updated_at`
	args := []any{userID, today, at}
	if limit > 0 {
		query += `
WHERE user_usage.messages_reset_date <> excluded.messages_reset_date
   OR user_usage.messages_sent_today < ?`
		args = append(args, limit)
	}
	return q.affectedOne(ctx, query, args...)
}

// RefundMessage undoes one ConsumeMessage for today, never going below zero.
func (q *Queries) RefundMessage(ctx context.Context, userID, today string, at int64) error {
	_, err := q.exec(ctx, `
UPDATE user_usage
SET messages_sent_today = CASE WHEN messages_sent_today > 0 THEN messages_sent_today - 1 ELSE 0 END,
    updated_at = ?
WHERE user_id = ? AND messages_reset_date = ?`, at, userID, today)
	return err
}

// ConsumeQuiz atomically counts one lifetime quiz under the same rules as
// ConsumeMessage.
func (q *Queries) ConsumeQuiz(ctx context.Context, userID, today string, limit int, at int64) (bool, error) {
	if limit == 0 {
		return false, nil
	}
	query := `
INSERT INTO user_usage (user_id, messages_sent_today, messages_reset_date, quizzes_created, updated_at)
VALUES (?, 0, ?, 1, ?)
ON CONFLICT (user_id) DO UPDATE SET
    quizzes_created = user_usage.quizzes_created + 1,
    updated_at = excluded.updated_at`
	args := []any{userID, today, at}
	if limit > 0 {
		query += `
WHERE user_usage.quizzes_created < ?`
		args = append(args, limit)
	}
	return q.affectedOne(ctx, query, args...)
}

// RefundQuiz undoes one ConsumeQuiz, never going below zero.
func (q *Queries) RefundQuiz(ctx context.Context, userID string, at int64) error {
	_, err := q.exec(ctx, `
UPDATE user_usage
SET quizzes_created = CASE WHEN quizzes_created > 0 THEN quizzes_created - 1 ELSE 0 END,
    updated_at = ?
WHERE user_id = ?`, at, userID)
	return err
}

func (q *Queries) affectedOne(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
