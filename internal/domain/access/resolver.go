package access

import (
	"context"
	"fmt"

	"github.com/carebook/scheduler/internal/platform/apperr"
	"github.com/google/uuid"
)

// BranchLookup returns the branches a staff member is currently mapped to.
type BranchLookup interface {
	BranchIDsForStaff(ctx context.Context, staffID uuid.UUID) ([]uuid.UUID, error)
}

// Resolver turns a verified (id, role) pair into a Caller. Branch-scoped
// callers have their mappings loaded on every resolution.
type Resolver struct {
	branches BranchLookup
}

func NewResolver(branches BranchLookup) *Resolver {
	return &Resolver{branches: branches}
}

func (r *Resolver) Resolve(ctx context.Context, id, role string) (Caller, error) {
	parsedRole, err := ParseRole(role)
	if err != nil {
		return Caller{}, apperr.AccessDenied("%s", err.Error())
	}
	callerID, err := uuid.Parse(id)
	if err != nil {
		return Caller{}, apperr.AccessDenied("caller id %q is not a valid identifier", id)
	}

	caller := Caller{ID: callerID, Role: parsedRole}
	if CapabilitiesOf(parsedRole).Has(CapBranchAppointments) {
		branches, err := r.branches.BranchIDsForStaff(ctx, callerID)
		if err != nil {
			return Caller{}, fmt.Errorf("resolve branches for %s: %w", callerID, err)
		}
		caller.Branches = branches
	}
	return caller, nil
}
