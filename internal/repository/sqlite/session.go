package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/connhub/internal/apperror"
	"github.com/sakif/connhub/internal/model"
	"github.com/sakif/connhub/internal/repository"
)

var _ repository.SessionRepository = (*DB)(nil)

// CreateSession stores a new session row.
// All timestamps are written in UTC so SQL comparisons on expires_at are
// consistent.
func (db *DB) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, user_id, created_at, expires_at, last_active)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.TokenHash,
		sess.UserID,
		sess.CreatedAt.UTC(),
		sess.ExpiresAt.UTC(),
		sess.LastActive.UTC(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", sess.UserID)
		}
		return fmt.Errorf("sqlite: creating session: %w", err)
	}
	return nil
}

// GetSessionWithUser loads a session and joins it to the live user row.
//
// Joining here, instead of trusting anything cached in the session, is
// what makes role changes visible on the very next request.
func (db *DB) GetSessionWithUser(ctx context.Context, tokenHash string) (*model.Session, *model.User, error) {
	var (
		s model.Session
		u model.User
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT s.token_hash, s.user_id, s.created_at, s.expires_at, s.last_active,
		        u.id, u.email, u.name, u.password_hash, u.avatar_url, u.role, u.created_at, u.updated_at
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.token_hash = ?`,
		tokenHash,
	).Scan(
		&s.TokenHash, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &s.LastActive,
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.AvatarURL, &u.Role, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, apperror.NotFound("session", "(redacted)")
		}
		return nil, nil, fmt.Errorf("sqlite: getting session: %w", err)
	}

	return &s, &u, nil
}

// TouchSession records activity and the (possibly extended) expiry.
func (db *DB) TouchSession(ctx context.Context, tokenHash string, lastActive, expiresAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE sessions SET last_active = ?, expires_at = ? WHERE token_hash = ?`,
		lastActive.UTC(), expiresAt.UTC(), tokenHash,
	)
	if err != nil {
		return fmt.Errorf("sqlite: touching session: %w", err)
	}
	return nil
}

// DeleteSession removes one session. Deleting a missing session is not an
// error: logout must be idempotent.
func (db *DB) DeleteSession(ctx context.Context, tokenHash string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("sqlite: deleting session: %w", err)
	}
	return nil
}

// DeleteUserSessions removes every session belonging to userID.
func (db *DB) DeleteUserSessions(ctx context.Context, userID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: deleting sessions for user %s: %w", userID, err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions whose expiry is at or before now
// and returns how many were deleted.
func (db *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting expired sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
