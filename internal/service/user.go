package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/connhub/internal/apperror"
	"github.com/sakif/connhub/internal/model"
	"github.com/sakif/connhub/internal/repository"
)

// User listing limits.
const (
	DefaultUserLimit = 10
	MaxUserLimit     = 100
)

// UserService is the read side of the user directory.
type UserService struct {
	repo   repository.UserRepository
	logger *slog.Logger
}

func NewUserService(repo repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{repo: repo, logger: logger}
}

// Search matches q against name and email. limit is clamped to
// [1, MaxUserLimit]; zero or negative means DefaultUserLimit.
func (s *UserService) Search(ctx context.Context, q string, limit int) ([]model.UserSummary, error) {
	if limit <= 0 {
		limit = DefaultUserLimit
	}
	if limit > MaxUserLimit {
		limit = MaxUserLimit
	}

	users, err := s.repo.SearchUsers(ctx, repository.UserSearch{Query: strings.TrimSpace(q), Limit: limit})
	if err != nil {
		s.logger.Error("failed to search users", slog.String("error", err.Error()))
		return nil, fmt.Errorf("searching users: %w", err)
	}
	return users, nil
}

// GetByID returns one user.
func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}
	return s.repo.GetUserByID(ctx, id)
}
