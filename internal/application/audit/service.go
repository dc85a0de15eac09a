// Package audit exposes the read side of the audit trail for admins.
package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/campusswap/campusswap/internal/domain/audit"
)

// Service handles audit log queries.
type Service struct {
	repo   audit.Repository
	logger zerolog.Logger
}

// NewService creates an audit service.
func NewService(repo audit.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("service", "audit").Logger(),
	}
}

// Query returns audit logs matching the filter, newest first.
func (s *Service) Query(ctx context.Context, filter audit.Filter, limit, offset int) ([]*audit.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, filter, limit, offset)
}
