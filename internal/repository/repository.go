// Package repository declares the storage interfaces the service layer
// depends on. Implementations live in subpackages (see repository/sqlite).
package repository

import (
	"context"
	"time"

	"github.com/sakif/connhub/internal/model"
)

// UserSearch filters the user listing. An empty Query matches everyone.
type UserSearch struct {
	Query string
	Limit int
}

// ConnectionSearch filters the connection listing. Query is matched
// against the connection name and the owner's name and email.
type ConnectionSearch struct {
	Query string
	Limit int
}

// UserRepository is the credential store.
//
// CreateUser must return an apperror.ErrConflict error when the email is
// already taken. The service relies on that to resolve concurrent
// first-time OAuth logins for the same address.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUserProfile(ctx context.Context, user *model.User) error
	SearchUsers(ctx context.Context, opts UserSearch) ([]model.UserSummary, error)
	CountUsers(ctx context.Context) (int, error)
}

// AccountRepository links third-party identities to local users.
type AccountRepository interface {
	LinkAccount(ctx context.Context, userID, provider, subject string) error
}

// SessionRepository stores server-tracked sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, sess *model.Session) error
	// GetSessionWithUser returns the session and the live user row it
	// belongs to, or apperror.ErrNotFound.
	GetSessionWithUser(ctx context.Context, tokenHash string) (*model.Session, *model.User, error)
	TouchSession(ctx context.Context, tokenHash string, lastActive, expiresAt time.Time) error
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteUserSessions(ctx context.Context, userID string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// ConnectionRepository stores connection records and their share lists.
type ConnectionRepository interface {
	CreateConnection(ctx context.Context, conn *model.Connection) error
	GetConnection(ctx context.Context, id string) (*model.Connection, error)
	UpdateConnection(ctx context.Context, conn *model.Connection) error
	DeleteConnection(ctx context.Context, id string) error
	SearchConnections(ctx context.Context, opts ConnectionSearch) ([]model.ConnectionListing, error)
	AddShare(ctx context.Context, connectionID, userID string) error
	RemoveShare(ctx context.Context, connectionID, userID string) error
	// CountConnections counts connections created at or after since.
	// A zero since counts all of them.
	CountConnections(ctx context.Context, since time.Time) (int, error)
}
