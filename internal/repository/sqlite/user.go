package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/connhub/internal/apperror"
	"github.com/sakif/connhub/internal/model"
	"github.com/sakif/connhub/internal/repository"
)

// compile-time checks that *DB implements the user-side repositories
var (
	_ repository.UserRepository    = (*DB)(nil)
	_ repository.AccountRepository = (*DB)(nil)
)

const userColumns = `id, email, name, password_hash, avatar_url, role, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, u *model.User) error {
	return row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.AvatarURL,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
}

// CreateUser inserts a new user and fills in ID and timestamps.
//
// UNIQUE EMAIL IS THE AUTHORITY:
// We do not check for an existing email first. Two concurrent inserts for
// the same address would both pass such a check; the UNIQUE constraint
// is the only thing that decides the winner. The loser gets
// apperror.ErrConflict and the caller chooses what to do with it.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = model.DefaultRole
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.AvatarURL,
		user.Role,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User

	err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	), &u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}

	return &u, nil
}

// GetUserByEmail retrieves a user by exact email match.
// Emails are normalized by the service before they reach the store.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User

	err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email,
	), &u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}

	return &u, nil
}

// UpdateUserProfile writes name and avatar. Email, role and password hash
// are deliberately not touched here.
func (db *DB) UpdateUserProfile(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET name = ?, avatar_url = ?, updated_at = ? WHERE id = ?`,
		user.Name,
		user.AvatarURL,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

// SearchUsers matches name or email case-insensitively and returns each
// user with how many connections they own and how many are shared with them.
func (db *DB) SearchUsers(ctx context.Context, opts repository.UserSearch) ([]model.UserSummary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	pattern := likePattern(opts.Query)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT u.id, u.email, u.name, u.password_hash, u.avatar_url, u.role, u.created_at, u.updated_at,
		        (SELECT COUNT(*) FROM connections c WHERE c.owner_id = u.id),
		        (SELECT COUNT(*) FROM connection_shares s WHERE s.user_id = u.id)
		 FROM users u
		 WHERE lower(u.name) LIKE ? ESCAPE '\' OR lower(u.email) LIKE ? ESCAPE '\'
		 ORDER BY u.name ASC, u.email ASC
		 LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searching users: %w", err)
	}
	defer rows.Close()

	users := make([]model.UserSummary, 0, limit)
	for rows.Next() {
		var s model.UserSummary
		if err := rows.Scan(
			&s.ID, &s.Email, &s.Name, &s.PasswordHash, &s.AvatarURL, &s.Role,
			&s.CreatedAt, &s.UpdatedAt,
			&s.ConnectionCount, &s.SharedCount,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}

	return users, nil
}

// CountUsers returns the total number of users.
func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting users: %w", err)
	}
	return n, nil
}

// LinkAccount records that (provider, subject) belongs to userID.
// Linking the same pair again is a no-op.
func (db *DB) LinkAccount(ctx context.Context, userID, provider, subject string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (provider, provider_account_id, user_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (provider, provider_account_id) DO NOTHING`,
		provider, subject, userID, time.Now().UTC(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", userID)
		}
		return fmt.Errorf("sqlite: linking %s account: %w", provider, err)
	}
	return nil
}
