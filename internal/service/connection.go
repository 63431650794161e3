package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/connhub/internal/apperror"
	"github.com/sakif/connhub/internal/model"
	"github.com/sakif/connhub/internal/probe"
	"github.com/sakif/connhub/internal/repository"
)

// Validation limits for connection records.
const (
	MaxConnectionNameLength = 100
	MaxHostLength           = 255
	MaxConnectionResults    = 50
)

// ConnectionInput is the full set of user-editable connection fields.
// Port 0 means "the engine's default port".
type ConnectionInput struct {
	Name     string
	DBType   model.DBType
	Host     string
	Port     int
	Username string
	Database string
}

// ConnectionUpdate is a partial update: nil fields are left unchanged.
type ConnectionUpdate struct {
	Name     *string
	DBType   *model.DBType
	Host     *string
	Port     *int
	Username *string
	Database *string
}

// ConnectionService handles connection records, their share lists and
// reachability probes.
//
// AUTHORIZATION:
// Any signed-in user may list, read and create. Changing, deleting,
// sharing or probing a connection requires being its owner or an ADMIN.
type ConnectionService struct {
	repo   repository.ConnectionRepository
	users  repository.UserRepository
	prober probe.Prober
	logger *slog.Logger
}

// NewConnectionService creates a ConnectionService.
func NewConnectionService(
	repo repository.ConnectionRepository,
	users repository.UserRepository,
	prober probe.Prober,
	logger *slog.Logger,
) *ConnectionService {
	return &ConnectionService{repo: repo, users: users, prober: prober, logger: logger}
}

// Search lists connections matching q (connection name, owner name or
// owner email), newest first, at most MaxConnectionResults.
func (s *ConnectionService) Search(ctx context.Context, q string) ([]model.ConnectionListing, error) {
	listings, err := s.repo.SearchConnections(ctx, repository.ConnectionSearch{
		Query: strings.TrimSpace(q),
		Limit: MaxConnectionResults,
	})
	if err != nil {
		s.logger.Error("failed to search connections", slog.String("error", err.Error()))
		return nil, fmt.Errorf("searching connections: %w", err)
	}
	return listings, nil
}

// Get returns one connection.
func (s *ConnectionService) Get(ctx context.Context, id string) (*model.Connection, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "connection ID is required")
	}
	return s.repo.GetConnection(ctx, id)
}

// Create validates and saves a connection owned by the principal.
func (s *ConnectionService) Create(ctx context.Context, p *model.Principal, in ConnectionInput) (*model.Connection, error) {
	conn := &model.Connection{
		Name:     strings.TrimSpace(in.Name),
		DBType:   model.DBType(strings.ToLower(strings.TrimSpace(string(in.DBType)))),
		Host:     strings.TrimSpace(in.Host),
		Port:     in.Port,
		Username: strings.TrimSpace(in.Username),
		Database: strings.TrimSpace(in.Database),
		OwnerID:  p.ID,
	}
	if conn.Port == 0 {
		conn.Port = conn.DBType.DefaultPort()
	}
	if err := validateConnection(conn); err != nil {
		return nil, err
	}

	if err := s.repo.CreateConnection(ctx, conn); err != nil {
		s.logger.Error("failed to create connection",
			slog.String("name", conn.Name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating connection: %w", err)
	}

	s.logger.Info("connection created",
		slog.String("id", conn.ID),
		slog.String("ownerID", conn.OwnerID),
		slog.String("dbType", string(conn.DBType)),
	)
	return conn, nil
}

// Update applies a partial update. Owner or ADMIN only.
//
// STRATEGY: fetch, authorize, apply, validate the result as a whole, save.
// Validating the merged record catches combinations a field-by-field
// check would miss (e.g. switching engine without a port).
func (s *ConnectionService) Update(ctx context.Context, p *model.Principal, id string, in ConnectionUpdate) (*model.Connection, error) {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(p, conn); err != nil {
		return nil, err
	}

	if in.Name != nil {
		conn.Name = strings.TrimSpace(*in.Name)
	}
	if in.DBType != nil {
		conn.DBType = model.DBType(strings.ToLower(strings.TrimSpace(string(*in.DBType))))
	}
	if in.Host != nil {
		conn.Host = strings.TrimSpace(*in.Host)
	}
	if in.Port != nil {
		conn.Port = *in.Port
		if conn.Port == 0 {
			conn.Port = conn.DBType.DefaultPort()
		}
	}
	if in.Username != nil {
		conn.Username = strings.TrimSpace(*in.Username)
	}
	if in.Database != nil {
		conn.Database = strings.TrimSpace(*in.Database)
	}
	if err := validateConnection(conn); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateConnection(ctx, conn); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		s.logger.Error("failed to update connection",
			slog.String("id", conn.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating connection: %w", err)
	}

	s.logger.Info("connection updated", slog.String("id", conn.ID), slog.String("by", p.ID))
	return conn, nil
}

// Delete removes a connection and its shares. Owner or ADMIN only.
func (s *ConnectionService) Delete(ctx context.Context, p *model.Principal, id string) error {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(p, conn); err != nil {
		return err
	}

	if err := s.repo.DeleteConnection(ctx, conn.ID); err != nil {
		return err
	}

	s.logger.Info("connection deleted", slog.String("id", conn.ID), slog.String("by", p.ID))
	return nil
}

// Share gives userID access to the connection. Owner or ADMIN only.
// Sharing with the owner is rejected; sharing twice is a no-op.
func (s *ConnectionService) Share(ctx context.Context, p *model.Principal, id, userID string) error {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(p, conn); err != nil {
		return err
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperror.ValidationFailed("userId", "user ID is required")
	}
	if userID == conn.OwnerID {
		return apperror.ValidationFailed("userId", "cannot share a connection with its owner")
	}
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return err
	}

	if err := s.repo.AddShare(ctx, conn.ID, userID); err != nil {
		return fmt.Errorf("sharing connection: %w", err)
	}

	s.logger.Info("connection shared",
		slog.String("id", conn.ID),
		slog.String("with", userID),
		slog.String("by", p.ID),
	)
	return nil
}

// Unshare revokes a share. Owner or ADMIN only.
func (s *ConnectionService) Unshare(ctx context.Context, p *model.Principal, id, userID string) error {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(p, conn); err != nil {
		return err
	}

	if err := s.repo.RemoveShare(ctx, conn.ID, strings.TrimSpace(userID)); err != nil {
		return err
	}

	s.logger.Info("connection unshared", slog.String("id", conn.ID), slog.String("with", userID))
	return nil
}

// Test probes the connection's database with the given password.
// Owner or ADMIN only: the probe makes outbound network calls.
func (s *ConnectionService) Test(ctx context.Context, p *model.Principal, id, password string) (*probe.Result, error) {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(p, conn); err != nil {
		return nil, err
	}

	res, err := s.prober.Probe(ctx, probe.Request{
		DBType:   conn.DBType,
		Host:     conn.Host,
		Port:     conn.Port,
		Username: conn.Username,
		Password: password,
		Database: conn.Database,
	})
	if err != nil {
		return nil, apperror.ValidationFailed("dbType", err.Error())
	}
	return res, nil
}

// authorize allows the owner and ADMINs.
func authorize(p *model.Principal, conn *model.Connection) error {
	if p == nil {
		return apperror.Unauthorized("authentication required")
	}
	if p.ID == conn.OwnerID || p.HasRole(model.RoleAdmin) {
		return nil
	}
	return apperror.Forbidden("only the owner or an admin can modify this connection")
}

func validateConnection(c *model.Connection) error {
	if c.Name == "" {
		return apperror.ValidationFailed("name", "connection name is required")
	}
	if len(c.Name) > MaxConnectionNameLength {
		return apperror.ValidationFailed("name",
			fmt.Sprintf("connection name must be %d characters or less", MaxConnectionNameLength))
	}
	if !c.DBType.Valid() {
		return apperror.ValidationFailed("dbType", "database type must be postgres or mysql")
	}
	if c.Host == "" {
		return apperror.ValidationFailed("host", "host is required")
	}
	if len(c.Host) > MaxHostLength {
		return apperror.ValidationFailed("host",
			fmt.Sprintf("host must be %d characters or less", MaxHostLength))
	}
	if c.Port < 1 || c.Port > 65535 {
		return apperror.ValidationFailed("port", "port must be between 1 and 65535")
	}
	return nil
}
