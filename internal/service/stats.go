package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/connhub/internal/model"
	"github.com/sakif/connhub/internal/repository"
)

// RecentWindow is how far back "recent connections" looks.
const RecentWindow = 7 * 24 * time.Hour

// StatsService computes the dashboard aggregate.
type StatsService struct {
	connections repository.ConnectionRepository
	users       repository.UserRepository
	now         func() time.Time
}

func NewStatsService(connections repository.ConnectionRepository, users repository.UserRepository) *StatsService {
	return &StatsService{connections: connections, users: users, now: time.Now}
}

// Get runs the three counts concurrently. The first failure cancels the
// others and is returned.
func (s *StatsService) Get(ctx context.Context) (*model.Stats, error) {
	var stats model.Stats
	since := s.now().Add(-RecentWindow)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.connections.CountConnections(ctx, time.Time{})
		stats.TotalConnections = n
		return err
	})
	g.Go(func() error {
		n, err := s.users.CountUsers(ctx)
		stats.TotalUsers = n
		return err
	})
	g.Go(func() error {
		n, err := s.connections.CountConnections(ctx, since)
		stats.RecentConnections = n
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	return &stats, nil
}
