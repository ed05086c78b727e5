package directory

import (
	"context"

	"github.com/google/uuid"
)

// Lookups return (nil, nil) when no row matches.

type StaffRepository interface {
	Create(ctx context.Context, s *Staff) error
	GetByID(ctx context.Context, id uuid.UUID) (*Staff, error)
	GetByEmail(ctx context.Context, email string) (*Staff, error)
	Update(ctx context.Context, s *Staff) error
	List(ctx context.Context, f StaffFilter, limit, offset int) ([]*Staff, int, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByEmail(ctx context.Context, email string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

type BranchRepository interface {
	Create(ctx context.Context, b *Branch) error
	GetByID(ctx context.Context, id uuid.UUID) (*Branch, error)
	GetByCode(ctx context.Context, code string) (*Branch, error)
	Update(ctx context.Context, b *Branch) error
	List(ctx context.Context, active *bool, limit, offset int) ([]*Branch, int, error)
}

type MappingRepository interface {
	Create(ctx context.Context, m *Mapping) error
	Get(ctx context.Context, staffID, branchID uuid.UUID) (*Mapping, error)
	// Delete reports whether a mapping was removed.
	Delete(ctx context.Context, staffID, branchID uuid.UUID) (bool, error)
	DeleteByStaff(ctx context.Context, staffID uuid.UUID) (int, error)
	DeleteByBranch(ctx context.Context, branchID uuid.UUID) (int, error)
	ListByStaff(ctx context.Context, staffID uuid.UUID) ([]*Mapping, error)
	ListByBranch(ctx context.Context, branchID uuid.UUID) ([]*Mapping, error)
	List(ctx context.Context, limit, offset int) ([]*Mapping, int, error)
	BranchIDsForStaff(ctx context.Context, staffID uuid.UUID) ([]uuid.UUID, error)
}
