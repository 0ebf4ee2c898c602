package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// User is an account that can sign in.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	GoogleSub    string
	CreatedAt    int64
	LastLoginAt  int64
}

// Profile is the display data attached to a user.
type Profile struct {
	UserID            string `json:"user_id"`
	Email             string `json:"email"`
	FullName          string `json:"full_name"`
	AvatarURL         string `json:"avatar_url"`
	PreferredCategory string `json:"preferred_category"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
}

// UserSummary is an admin listing row.
type UserSummary struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	FullName        string `json:"full_name"`
	PlanID          string `json:"plan_id"`
	Subscribed      bool   `json:"subscribed"`
	SubscriptionEnd int64  `json:"subscription_end"`
	CreatedAt       int64  `json:"created_at"`
	LastLoginAt     int64  `json:"last_login_at"`
}

const userColumns = `id, email, password_hash, google_sub, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u         User
		googleSub sql.NullString
		lastLogin sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &googleSub, &u.CreatedAt, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.GoogleSub = googleSub.String
	u.LastLoginAt = lastLogin.Int64
	return &u, nil
}

// CreateUser inserts a user and its empty profile.
func (q *Queries) CreateUser(ctx context.Context, u User, fullName string) error {
	if _, err := q.exec(ctx,
		`INSERT INTO users (id, email, password_hash, google_sub, created_at, last_login_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, nullString(u.GoogleSub), u.CreatedAt, u.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if _, err := q.exec(ctx,
		`INSERT INTO profiles (user_id, email, full_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, fullName, u.CreatedAt, u.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// GetUserByID returns ErrNotFound when absent.
func (q *Queries) GetUserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByEmail matches case-insensitively on the stored lowercase email.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (q *Queries) GetUserByGoogleSub(ctx context.Context, sub string) (*User, error) {
	return scanUser(q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE google_sub = ?`, sub))
}

// LinkGoogleSub attaches a Google subject to an existing user.
func (q *Queries) LinkGoogleSub(ctx context.Context, userID, sub string) error {
	_, err := q.exec(ctx, `UPDATE users SET google_sub = ? WHERE id = ?`, sub, userID)
	return err
}

func (q *Queries) TouchUserLogin(ctx context.Context, userID string, at int64) error {
	_, err := q.exec(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, at, userID)
	return err
}

func (q *Queries) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// ListUsers returns newest users first with their plan state.
func (q *Queries) ListUsers(ctx context.Context, limit, offset int) ([]UserSummary, error) {
	rows, err := q.query(ctx, `
SELECT u.id, u.email, COALESCE(p.full_name, ''), COALESCE(s.plan_id, 'free'),
       COALESCE(s.subscribed, 0), COALESCE(s.subscription_end, 0), u.created_at, COALESCE(u.last_login_at, 0)
FROM users u
LEFT JOIN profiles p ON p.user_id = u.id
LEFT JOIN subscribers s ON s.user_id = u.id
ORDER BY u.created_at DESC, u.id
LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserSummary
	for rows.Next() {
		var (
			s          UserSummary
			subscribed int
		)
		if err := rows.Scan(&s.ID, &s.Email, &s.FullName, &s.PlanID, &subscribed, &s.SubscriptionEnd, &s.CreatedAt, &s.LastLoginAt); err != nil {
			return nil, err
		}
		s.Subscribed = subscribed == 1
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetProfile returns ErrNotFound when absent.
func (q *Queries) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := q.queryRow(ctx, `
SELECT user_id, email, full_name, avatar_url, preferred_category, created_at, updated_at
FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.Email, &p.FullName, &p.AvatarURL, &p.PreferredCategory, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile sets the editable profile fields.
func (q *Queries) UpdateProfile(ctx context.Context, userID, fullName, preferredCategory string, at int64) error {
	res, err := q.exec(ctx,
		`UPDATE profiles SET full_name = ?, preferred_category = ?, updated_at = ? WHERE user_id = ?`,
		fullName, preferredCategory, at, userID)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (q *Queries) SetAvatarURL(ctx context.Context, userID, url string, at int64) error {
	res, err := q.exec(ctx, `UPDATE profiles SET avatar_url = ?, updated_at = ? WHERE user_id = ?`, url, at, userID)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
