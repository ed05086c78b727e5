package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var validStatuses = map[Status]bool{
	StatusScheduled: true, StatusCancelled: true, StatusCompleted: true,
}

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

var validCategories = map[string]bool{
	"work": true, "personal": true, "medical": true, "education": true, "social": true,
}

const (
	DefaultCategory = "work"
	MaxDuration     = 4 * time.Hour
)

// Appointment maps to the appointment table. Times are wall-clock values
// without a zone; they are compared as-is.
type Appointment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description,omitempty"`
	Category    string     `db:"category" json:"category"`
	StaffID     uuid.UUID  `db:"staff_id" json:"staff_id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	BranchID    *uuid.UUID `db:"branch_id" json:"branch_id,omitempty"`
	StartTime   time.Time  `db:"start_time" json:"start_time"`
	EndTime     time.Time  `db:"end_time" json:"end_time"`
	Status      Status     `db:"status" json:"status"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (a *Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}

// Filter narrows appointment listings. From/To bound start_time as [From, To).
// Branches, when non-nil, restricts rows to those branches; an empty
// non-nil slice matches nothing.
type Filter struct {
	StaffID   *uuid.UUID
	PatientID *uuid.UUID
	BranchID  *uuid.UUID
	Branches  []uuid.UUID
	Status    *Status
	Category  string
	From      *time.Time
	To        *time.Time
}

var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// ParseTime accepts ISO-8601 date-times with or without an offset. Any
// offset is dropped and the wall clock kept.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return wallClock(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date-time %q", s)
}

func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
