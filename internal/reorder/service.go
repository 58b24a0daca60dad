package reorder

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// Repository reads authoritative stock levels.
type Repository interface {
	ListLowStock(ctx context.Context) ([]Level, error)
}

// Projection is the redis view maintained by Signal.
type Projection interface {
	Replace(ctx context.Context, levels []Level) error
}

// Service answers low-stock queries.
type Service struct {
	repo       Repository
	projection Projection
	logger     *slog.Logger
	group      singleflight.Group
}

// NewService builds Service. projection may be nil.
func NewService(repo Repository, projection Projection, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, projection: projection, logger: logger}
}

// LowStock lists every part at or below its threshold. Concurrent callers
// share one query.
func (s *Service) LowStock(ctx context.Context) ([]Level, error) {
	v, err, _ := s.group.Do("low-stock", func() (any, error) {
		return s.repo.ListLowStock(ctx)
	})
	if err != nil {
		return nil, err
	}
	levels := v.([]Level)
	out := make([]Level, len(levels))
	copy(out, levels)
	return out, nil
}

// RebuildProjection resynchronises the redis projection with Postgres.
func (s *Service) RebuildProjection(ctx context.Context) (int, error) {
	levels, err := s.LowStock(ctx)
	if err != nil {
		return 0, err
	}
	if s.projection == nil {
		return len(levels), nil
	}
	if err := s.projection.Replace(ctx, levels); err != nil {
		return 0, err
	}
	s.logger.Info("low-stock projection rebuilt", slog.Int("parts", len(levels)))
	return len(levels), nil
}
