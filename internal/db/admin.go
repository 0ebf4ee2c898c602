package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type AdminUser struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	CreatedAt    int64  `json:"created_at"`
	LastLoginAt  int64  `json:"last_login_at"`
}

func scanAdmin(row *sql.Row) (*AdminUser, error) {
	var (
		a         AdminUser
		lastLogin sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.LastLoginAt = lastLogin.Int64
	return &a, nil
}

// CreateAdminUser inserts an admin. It reports false if the username exists.
func (q *Queries) CreateAdminUser(ctx context.Context, a AdminUser) (bool, error) {
	created, err := q.affectedOne(ctx, `
INSERT INTO admin_users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT (username) DO NOTHING`, a.ID, a.Username, a.PasswordHash, a.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert admin user: %w", err)
	}
	return created, nil
}

func (q *Queries) GetAdminByUsername(ctx context.Context, username string) (*AdminUser, error) {
	return scanAdmin(q.queryRow(ctx,
		`SELECT id, username, password_hash, created_at, last_login_at FROM admin_users WHERE username = ?`, username))
}

func (q *Queries) TouchAdminLogin(ctx context.Context, id string, at int64) error {
	_, err := q.exec(ctx, `UPDATE admin_users SET last_login_at = ? WHERE id = ?`, at, id)
	return err
}

func (q *Queries) CreateAdminSession(ctx context.Context, tokenHash, adminID string, expiresAt, at int64) error {
	_, err := q.exec(ctx,
		`INSERT INTO admin_sessions (token_hash, admin_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		tokenHash, adminID, expiresAt, at)
	if err != nil {
		return fmt.Errorf("insert admin session: %w", err)
	}
	return nil
}

// GetAdminSession resolves an unexpired session to its admin.
func (q *Queries) GetAdminSession(ctx context.Context, tokenHash string, at int64) (*AdminUser, error) {
	return scanAdmin(q.queryRow(ctx, `
SELECT a.id, a.username, a.password_hash, a.created_at, a.last_login_at
FROM admin_sessions s JOIN admin_users a ON a.id = s.admin_id
WHERE s.token_hash = ? AND s.expires_at > ?`, tokenHash, at))
}

func (q *Queries) DeleteAdminSession(ctx context.Context, tokenHash string) error {
	_, err := q.exec(ctx, `DELETE FROM admin_sessions WHERE token_hash = ?`, tokenHash)
	return err
}

// DeleteExpiredAdminSessions returns the number of sessions removed.
func (q *Queries) DeleteExpiredAdminSessions(ctx context.Context, at int64) (int64, error) {
	res, err := q.exec(ctx, `DELETE FROM admin_sessions WHERE expires_at <= ?`, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
