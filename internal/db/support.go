package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Contact submission statuses.
const (
	ContactOpen     = "open"
	ContactResolved = "resolved"
)

type Feedback struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Rating    int    `json:"rating"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
}

type ContactSubmission struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

func (q *Queries) InsertFeedback(ctx context.Context, f Feedback) error {
	_, err := q.exec(ctx, `
INSERT INTO feedback (id, user_id, rating, category, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.Rating, f.Category, f.Message, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (q *Queries) ListFeedback(ctx context.Context, limit, offset int) ([]Feedback, error) {
	rows, err := q.query(ctx, `
SELECT id, user_id, rating, category, message, created_at
FROM feedback ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Feedback{}
	for rows.Next() {
		var f Feedback
		if err := rows.Scan(&f.ID, &f.UserID, &f.Rating, &f.Category, &f.Message, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AverageRating returns the mean feedback rating and the sample size.
func (q *Queries) AverageRating(ctx context.Context) (float64, int64, error) {
	var (
		avg sql.NullFloat64
		n   int64
	)
	err := q.queryRow(ctx, `SELECT AVG(rating * 1.0), COUNT(*) FROM feedback`).Scan(&avg, &n)
	return avg.Float64, n, err
}

func (q *Queries) InsertContact(ctx context.Context, c ContactSubmission) error {
	_, err := q.exec(ctx, `
INSERT INTO contact_submissions (id, name, email, subject, message, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Subject, c.Message, c.Status, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert contact submission: %w", err)
	}
	return nil
}

// ListContacts filters by status when status is non-empty.
func (q *Queries) ListContacts(ctx context.Context, status string, limit, offset int) ([]ContactSubmission, error) {
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `id, name, email, subject, message, status, created_at`
	if status == "" {
		rows, err = q.query(ctx, `SELECT `+cols+` FROM contact_submissions ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	} else {
		rows, err = q.query(ctx, `SELECT `+cols+` FROM contact_submissions WHERE status = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, status, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ContactSubmission{}
	for rows.Next() {
		var c ContactSubmission
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Subject, &c.Message, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) SetContactStatus(ctx context.Context, id, status string) error {
	res, err := q.exec(ctx, `UPDATE contact_submissions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (q *Queries) CountContacts(ctx context.Context, status string) (int64, error) {
	var n int64
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM contact_submissions WHERE status = ?`, status).Scan(&n)
	return n, err
}
