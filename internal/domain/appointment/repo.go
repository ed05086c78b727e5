package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subject names the column a booking is exclusive on.
type Subject string

const (
	SubjectStaff   Subject = "staff_id"
	SubjectPatient Subject = "patient_id"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	// GetByID returns (nil, nil) when no row matches.
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteMany(ctx context.Context, ids []uuid.UUID) (int, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
	// FindOverlapping returns scheduled appointments of one subject whose
	// interval intersects iv, ordered by start time.
	FindOverlapping(ctx context.Context, subject Subject, subjectID uuid.UUID, iv Interval) ([]*Appointment, error)
	// CancelFutureForStaff cancels scheduled appointments of a staff member
	// that start after now and returns their ids.
	CancelFutureForStaff(ctx context.Context, staffID uuid.UUID, now time.Time) ([]uuid.UUID, error)
}
