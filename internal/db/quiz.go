package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Quiz is a generated quiz header.
type Quiz struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Title         string `json:"title"`
	Category      string `json:"category"`
	Difficulty    string `json:"difficulty"`
	QuestionCount int    `json:"question_count"`
	CreatedAt     int64  `json:"created_at"`
}

// Question is one multiple-choice item of a quiz.
type Question struct {
	ID           string   `json:"id"`
	QuizID       string   `json:"quiz_id"`
	Position     int      `json:"position"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation"`
}

// Progress is one completed attempt.
type Progress struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	QuizID      string `json:"quiz_id"`
	Score       int    `json:"score"`
	Total       int    `json:"total"`
	Answers     []int  `json:"answers"`
	CompletedAt int64  `json:"completed_at"`
}

// ProgressSummary aggregates a user's attempts.
type ProgressSummary struct {
	Attempts       int64 `json:"attempts"`
	TotalCorrect   int64 `json:"total_correct"`
	TotalQuestions int64 `json:"total_questions"`
}

const quizColumns = `id, user_id, title, category, difficulty, question_count, created_at`

// InsertQuiz writes the quiz and its questions. Call inside InTx.
func (q *Queries) InsertQuiz(ctx context.Context, quiz Quiz, questions []Question) error {
	if _, err := q.exec(ctx,
		`INSERT INTO quizzes (`+quizColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		quiz.ID, quiz.UserID, quiz.Title, quiz.Category, quiz.Difficulty, quiz.QuestionCount, quiz.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	for _, qu := range questions {
		opts, err := json.Marshal(qu.Options)
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		if _, err := q.exec(ctx, `
INSERT INTO questions (id, quiz_id, position, prompt, options, correct_index, explanation)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			qu.ID, quiz.ID, qu.Position, qu.Prompt, string(opts), qu.CorrectIndex, qu.Explanation,
		); err != nil {
			return fmt.Errorf("insert question %d: %w", qu.Position, err)
		}
	}
	return nil
}

// GetQuiz is scoped to the owner.
func (q *Queries) GetQuiz(ctx context.Context, userID, id string) (*Quiz, error) {
	var z Quiz
	err := q.queryRow(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&z.ID, &z.UserID, &z.Title, &z.Category, &z.Difficulty, &z.QuestionCount, &z.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &z, nil
}

func (q *Queries) ListQuizzes(ctx context.Context, userID string, limit int) ([]Quiz, error) {
	rows, err := q.query(ctx,
		`SELECT `+quizColumns+` FROM quizzes WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Quiz{}
	for rows.Next() {
		var z Quiz
		if err := rows.Scan(&z.ID, &z.UserID, &z.Title, &z.Category, &z.Difficulty, &z.QuestionCount, &z.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// ListQuestions returns the quiz questions in position order.
func (q *Queries) ListQuestions(ctx context.Context, quizID string) ([]Question, error) {
	rows, err := q.query(ctx, `
SELECT id, quiz_id, position, prompt, options, correct_index, explanation
FROM questions WHERE quiz_id = ? ORDER BY position`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Question{}
	for rows.Next() {
		var (
			qu  Question
			raw string
		)
		if err := rows.Scan(&qu.ID, &qu.QuizID, &qu.Position, &qu.Prompt, &raw, &qu.CorrectIndex, &qu.Explanation); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &qu.Options); err != nil {
			return nil, fmt.Errorf("decode options for question %s: %w", qu.ID, err)
		}
		out = append(out, qu)
	}
	return out, rows.Err()
}

func (q *Queries) InsertProgress(ctx context.Context, p Progress) error {
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = q.exec(ctx, `
INSERT INTO progress (id, user_id, quiz_id, score, total, answers, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.QuizID, p.Score, p.Total, string(answers), p.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert progress: %w", err)
	}
	return nil
}

// HasAttempt reports whether the user has completed the quiz at least once.
func (q *Queries) HasAttempt(ctx context.Context, userID, quizID string) (bool, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM progress WHERE user_id = ? AND quiz_id = ?`, userID, quizID).Scan(&n)
	return n > 0, err
}

// ListProgress returns the user's attempts, newest first.
func (q *Queries) ListProgress(ctx context.Context, userID string, limit int) ([]Progress, error) {
	rows, err := q.query(ctx, `
SELECT id, user_id, quiz_id, score, total, answers, completed_at
FROM progress WHERE user_id = ? ORDER BY completed_at DESC, id LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Progress{}
	for rows.Next() {
		var (
			p   Progress
			raw string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.QuizID, &p.Score, &p.Total, &raw, &p.CompletedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(raw), &p.Answers)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *Queries) SummarizeProgress(ctx context.Context, userID string) (ProgressSummary, error) {
	var s ProgressSummary
	err := q.queryRow(ctx, `
SELECT COUNT(*), COALESCE(SUM(score), 0), COALESCE(SUM(total), 0)
FROM progress WHERE user_id = ?`, userID).Scan(&s.Attempts, &s.TotalCorrect, &s.TotalQuestions)
	return s, err
}

func (q *Queries) CountQuizzes(ctx context.Context) (int64, error) {
	var n int64
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM quizzes`).Scan(&n)
	return n, err
}
