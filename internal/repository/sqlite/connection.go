package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/connhub/internal/apperror"
	"github.com/sakif/connhub/internal/model"
	"github.com/sakif/connhub/internal/repository"
)

var _ repository.ConnectionRepository = (*DB)(nil)

// maxConnectionResults caps the connection search regardless of what the
// caller asks for.
const maxConnectionResults = 50

const connectionColumns = `id, name, db_type, host, port, username, database_name, owner_id, created_at, updated_at`

func scanConnection(row rowScanner, c *model.Connection) error {
	return row.Scan(
		&c.ID, &c.Name, &c.DBType, &c.Host, &c.Port,
		&c.Username, &c.Database, &c.OwnerID,
		&c.CreatedAt, &c.UpdatedAt,
	)
}

// CreateConnection inserts a connection and fills in ID and timestamps.
func (db *DB) CreateConnection(ctx context.Context, conn *model.Connection) error {
	now := time.Now().UTC()
	conn.ID = xid.New().String()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO connections (`+connectionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.Name, conn.DBType, conn.Host, conn.Port,
		conn.Username, conn.Database, conn.OwnerID,
		conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", conn.OwnerID)
		}
		return fmt.Errorf("sqlite: creating connection: %w", err)
	}
	return nil
}

// GetConnection retrieves a single connection by ID.
func (db *DB) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	var c model.Connection

	err := scanConnection(db.conn.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id,
	), &c)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("connection", id)
		}
		return nil, fmt.Errorf("sqlite: getting connection %s: %w", id, err)
	}
	return &c, nil
}

// UpdateConnection writes every mutable field. Owner and created_at are
// immutable.
func (db *DB) UpdateConnection(ctx context.Context, conn *model.Connection) error {
	conn.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE connections
		 SET name = ?, db_type = ?, host = ?, port = ?, username = ?, database_name = ?, updated_at = ?
		 WHERE id = ?`,
		conn.Name, conn.DBType, conn.Host, conn.Port,
		conn.Username, conn.Database, conn.UpdatedAt,
		conn.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating connection %s: %w", conn.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("connection", conn.ID)
	}
	return nil
}

// DeleteConnection removes a connection. Its shares go with it (ON DELETE CASCADE).
func (db *DB) DeleteConnection(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting connection %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("connection", id)
	}
	return nil
}

// SearchConnections matches the query against connection name, owner name
// and owner email (case-insensitive), newest first.
//
// TWO QUERIES, NOT N+1:
// The first query loads the page of connections with their owners. The
// second loads the share lists for the whole page at once. The first
// result set is fully read and closed before the second query runs, which
// matters for in-memory databases pinned to a single connection.
func (db *DB) SearchConnections(ctx context.Context, opts repository.ConnectionSearch) ([]model.ConnectionListing, error) {
	limit := opts.Limit
	if limit <= 0 || limit > maxConnectionResults {
		limit = maxConnectionResults
	}
	pattern := likePattern(opts.Query)

	listings, err := db.queryListings(ctx, pattern, limit)
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return listings, nil
	}

	if err := db.attachShares(ctx, listings); err != nil {
		return nil, err
	}
	return listings, nil
}

func (db *DB) queryListings(ctx context.Context, pattern string, limit int) ([]model.ConnectionListing, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT c.id, c.name, c.db_type, c.host, c.port, c.username, c.database_name, c.owner_id,
		        c.created_at, c.updated_at,
		        u.id, u.name, u.email, u.avatar_url,
		        (SELECT COUNT(*) FROM connection_shares s WHERE s.connection_id = c.id)
		 FROM connections c
		 JOIN users u ON u.id = c.owner_id
		 WHERE lower(c.name) LIKE ? ESCAPE '\'
		    OR lower(u.name) LIKE ? ESCAPE '\'
		    OR lower(u.email) LIKE ? ESCAPE '\'
		 ORDER BY c.created_at DESC, c.id DESC
		 LIMIT ?`,
		pattern, pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searching connections: %w", err)
	}
	defer rows.Close()

	listings := make([]model.ConnectionListing, 0, limit)
	for rows.Next() {
		var l model.ConnectionListing
		if err := rows.Scan(
			&l.ID, &l.Name, &l.DBType, &l.Host, &l.Port, &l.Username, &l.Database, &l.OwnerID,
			&l.CreatedAt, &l.UpdatedAt,
			&l.Owner.ID, &l.Owner.Name, &l.Owner.Email, &l.Owner.AvatarURL,
			&l.ShareCount,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning connection row: %w", err)
		}
		l.SharedWith = []model.UserRef{}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating connections: %w", err)
	}
	return listings, nil
}

func (db *DB) attachShares(ctx context.Context, listings []model.ConnectionListing) error {
	index := make(map[string]int, len(listings))
	args := make([]any, 0, len(listings))
	for i, l := range listings {
		index[l.ID] = i
		args = append(args, l.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")

	rows, err := db.conn.QueryContext(ctx,
		`SELECT s.connection_id, u.id, u.name, u.email, u.avatar_url
		 FROM connection_shares s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.connection_id IN (`+placeholders+`)
		 ORDER BY u.email ASC`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: loading connection shares: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			connID string
			ref    model.UserRef
		)
		if err := rows.Scan(&connID, &ref.ID, &ref.Name, &ref.Email, &ref.AvatarURL); err != nil {
			return fmt.Errorf("sqlite: scanning share row: %w", err)
		}
		if i, ok := index[connID]; ok {
			listings[i].SharedWith = append(listings[i].SharedWith, ref)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: iterating shares: %w", err)
	}
	return nil
}

// AddShare grants userID access to a connection. Sharing twice is a no-op.
func (db *DB) AddShare(ctx context.Context, connectionID, userID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO connection_shares (connection_id, user_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (connection_id, user_id) DO NOTHING`,
		connectionID, userID, time.Now().UTC(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user or connection", connectionID+"/"+userID)
		}
		return fmt.Errorf("sqlite: sharing connection %s: %w", connectionID, err)
	}
	return nil
}

// RemoveShare revokes a share. Returns NotFound if it did not exist.
func (db *DB) RemoveShare(ctx context.Context, connectionID, userID string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM connection_shares WHERE connection_id = ? AND user_id = ?`,
		connectionID, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: unsharing connection %s: %w", connectionID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("share", connectionID+"/"+userID)
	}
	return nil
}

// CountConnections counts connections created at or after since.
func (db *DB) CountConnections(ctx context.Context, since time.Time) (int, error) {
	var (
		n   int
		err error
	)
	if since.IsZero() {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM connections`).Scan(&n)
	} else {
		err = db.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM connections WHERE created_at >= ?`, since.UTC(),
		).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting connections: %w", err)
	}
	return n, nil
}
