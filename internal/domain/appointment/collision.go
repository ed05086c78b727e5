package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Overlaps reports whether two half-open intervals intersect. Touching
// intervals (one ends exactly when the other starts) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// OverlapFinder is the store query the Detector runs per subject.
type OverlapFinder interface {
	FindOverlapping(ctx context.Context, subject Subject, subjectID uuid.UUID, iv Interval) ([]*Appointment, error)
}

// Detector finds scheduled appointments that would collide with a booking.
// It does not lock: callers hold the subject locks around Check and the
// write that follows.
type Detector struct {
	finder OverlapFinder
}

func NewDetector(finder OverlapFinder) *Detector {
	return &Detector{finder: finder}
}

// Check returns conflicts for the staff member followed by conflicts for the
// patient, without duplicates and without exclude.
func (d *Detector) Check(ctx context.Context, staffID, patientID uuid.UUID, start, end time.Time, exclude uuid.UUID) ([]*Appointment, error) {
	iv := Interval{Start: start, End: end}
	seen := map[uuid.UUID]bool{}
	var conflicts []*Appointment

	for _, q := range []struct {
		subject Subject
		id      uuid.UUID
	}{
		{SubjectStaff, staffID},
		{SubjectPatient, patientID},
	} {
		if q.id == uuid.Nil {
			continue
		}
		found, err := d.finder.FindOverlapping(ctx, q.subject, q.id, iv)
		if err != nil {
			return nil, fmt.Errorf("find overlapping %s appointments: %w", q.subject, err)
		}
		for _, a := range found {
			if a.ID == exclude || seen[a.ID] || a.Status != StatusScheduled || !Overlaps(a.Interval(), iv) {
				continue
			}
			seen[a.ID] = true
			conflicts = append(conflicts, a)
		}
	}
	return conflicts, nil
}
