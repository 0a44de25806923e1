package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pcgarena/arena/internal/storage"
	"github.com/pcgarena/arena/internal/types"
)

const userColumns = `id, email, google_subject, display_name, password_hash, email_verified, is_admin, created_at, last_login_at`

func (d queries) CreateUser(ctx context.Context, u *types.User) error {
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.GoogleSubject, u.DisplayName, u.PasswordHash,
		u.EmailVerified, u.IsAdmin, u.CreatedAt, u.LastLoginAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (d queries) GetUser(ctx context.Context, id string) (*types.User, error) {
	return d.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (d queries) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return d.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`, email)
}

func (d queries) GetUserByGoogleSubject(ctx context.Context, subject string) (*types.User, error) {
	if subject == "" {
		return nil, storage.ErrNotFound
	}
	return d.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE google_subject = ?`, subject)
}

func (d queries) getUser(ctx context.Context, query string, arg string) (*types.User, error) {
	var u types.User
	err := d.q.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.GoogleSubject, &u.DisplayName, &u.PasswordHash,
		&u.EmailVerified, &u.IsAdmin, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (d queries) UpdateUser(ctx context.Context, u *types.User) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE users
		SET email = ?, google_subject = ?, display_name = ?, password_hash = ?,
		    email_verified = ?, is_admin = ?, last_login_at = ?
		WHERE id = ?
	`, u.Email, u.GoogleSubject, u.DisplayName, u.PasswordHash,
		u.EmailVerified, u.IsAdmin, u.LastLoginAt, u.ID)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", u.ID, err)
	}
	return requireRow(res, u.ID)
}

func (d queries) CreateSession(ctx context.Context, s *types.Session) error {
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, flagged, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.Token, s.UserID, s.Flagged, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (d queries) GetSession(ctx context.Context, token string) (*types.Session, error) {
	var s types.Session
	err := d.q.QueryRowContext(ctx, `
		SELECT token, user_id, flagged, created_at, expires_at FROM sessions WHERE token = ?
	`, token).Scan(&s.Token, &s.UserID, &s.Flagged, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (d queries) DeleteSession(ctx context.Context, token string) error {
	if _, err := d.q.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (d queries) FlagSession(ctx context.Context, token string) error {
	res, err := d.q.ExecContext(ctx, `UPDATE sessions SET flagged = 1 WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("failed to flag session: %w", err)
	}
	return requireRow(res, token)
}

func (d queries) CreateEmailToken(ctx context.Context, t *types.EmailToken) error {
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO email_tokens (token, user_id, purpose, expires_at)
		VALUES (?, ?, ?, ?)
	`, t.Token, t.UserID, t.Purpose, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create email token: %w", err)
	}
	return nil
}

// ConsumeEmailToken deletes and returns the token in one statement so
// a token can never be redeemed twice. Expired or unknown tokens come
// back as ErrNotFound; an expired token is gone after the attempt.
func (d queries) ConsumeEmailToken(ctx context.Context, token string, purpose types.TokenPurpose) (*types.EmailToken, error) {
	var t types.EmailToken
	err := d.q.QueryRowContext(ctx, `
		DELETE FROM email_tokens
		WHERE token = ? AND purpose = ?
		RETURNING token, user_id, purpose, expires_at
	`, token, purpose).Scan(&t.Token, &t.UserID, &t.Purpose, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume email token: %w", err)
	}
	if time.Now().After(t.ExpiresAt) {
		return nil, storage.ErrNotFound
	}
	return &t, nil
}
