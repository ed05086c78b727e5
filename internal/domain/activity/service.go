package activity

import (
	"context"

	"github.com/carebook/scheduler/internal/domain/access"
	"github.com/carebook/scheduler/internal/platform/apperr"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns audit events, newest first. Only administrators may read the
// trail.
func (s *Service) List(ctx context.Context, caller access.Caller, f Filter, limit, offset int) ([]*Event, int, error) {
	if access.Authorize(caller, access.OpViewAudit, access.Resource{}) == access.Deny {
		return nil, 0, apperr.AccessDenied("only administrators can view activity logs")
	}
	if f.EntityID != "" && f.EntityType == "" {
		return nil, 0, apperr.Validation("entity_type is required when entity_id is given")
	}
	return s.repo.List(ctx, f, limit, offset)
}
