package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func at(hour, min int) time.Time {
	return time.Date(2025, 6, 2, hour, min, 0, 0, time.UTC)
}

func TestOverlaps(t *testing.T) {
	base := Interval{Start: at(9, 0), End: at(10, 0)}
	tests := []struct {
		name  string
		other Interval
		want  bool
	}{
		{"identical", Interval{at(9, 0), at(10, 0)}, true},
		{"contained", Interval{at(9, 15), at(9, 45)}, true},
		{"containing", Interval{at(8, 0), at(11, 0)}, true},
		{"overlaps start", Interval{at(8, 30), at(9, 30)}, true},
		{"overlaps end", Interval{at(9, 30), at(10, 30)}, true},
		{"touches end", Interval{at(10, 0), at(11, 0)}, false},
		{"touches start", Interval{at(8, 0), at(9, 0)}, false},
		{"before", Interval{at(7, 0), at(8, 0)}, false},
		{"after", Interval{at(11, 0), at(12, 0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(base, tt.other); got != tt.want {
				t.Errorf("Overlaps(base, %v) = %v, want %v", tt.other, got, tt.want)
			}
			if got := Overlaps(tt.other, base); got != tt.want {
				t.Errorf("Overlaps is not symmetric for %s", tt.name)
			}
		})
	}
}

func TestDetector_Check(t *testing.T) {
	repo := newMockApptRepo()
	staffID, patientID := uuid.New(), uuid.New()

	staffBusy := repo.seed(&Appointment{Title: "staff busy", StaffID: staffID, PatientID: uuid.New(), StartTime: at(9, 0), EndTime: at(10, 0), Status: StatusScheduled})
	both := repo.seed(&Appointment{Title: "both", StaffID: staffID, PatientID: patientID, StartTime: at(9, 30), EndTime: at(10, 30), Status: StatusScheduled})
	patientBusy := repo.seed(&Appointment{Title: "patient busy", StaffID: uuid.New(), PatientID: patientID, StartTime: at(9, 45), EndTime: at(10, 15), Status: StatusScheduled})
	repo.seed(&Appointment{Title: "cancelled", StaffID: staffID, PatientID: patientID, StartTime: at(9, 0), EndTime: at(10, 0), Status: StatusCancelled})
	repo.seed(&Appointment{Title: "completed", StaffID: staffID, PatientID: patientID, StartTime: at(9, 0), EndTime: at(10, 0), Status: StatusCompleted})
	repo.seed(&Appointment{Title: "touching", StaffID: staffID, PatientID: patientID, StartTime: at(10, 30), EndTime: at(11, 0), Status: StatusScheduled})

	d := NewDetector(repo)
	conflicts, err := d.Check(context.Background(), staffID, patientID, at(9, 30), at(10, 30), uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conflicts) != 3 {
		t.Fatalf("expected 3 conflicts, got %d", len(conflicts))
	}
	if conflicts[0].ID != staffBusy.ID {
		t.Errorf("expected staff conflicts first, got %q", conflicts[0].Title)
	}
	if conflicts[2].ID != patientBusy.ID {
		t.Errorf("expected patient conflict last, got %q", conflicts[2].Title)
	}

	conflicts, _ = d.Check(context.Background(), staffID, patientID, at(9, 30), at(10, 30), both.ID)
	for _, c := range conflicts {
		if c.ID == both.ID {
			t.Error("expected excluded appointment to be skipped")
		}
	}
	if len(conflicts) != 2 {
		t.Errorf("expected 2 conflicts after exclusion, got %d", len(conflicts))
	}
}

func TestDetector_Check_NoConflicts(t *testing.T) {
	repo := newMockApptRepo()
	staffID := uuid.New()
	repo.seed(&Appointment{StaffID: staffID, PatientID: uuid.New(), StartTime: at(9, 0), EndTime: at(10, 0), Status: StatusScheduled})

	conflicts, err := NewDetector(repo).Check(context.Background(), staffID, uuid.New(), at(10, 0), at(11, 0), uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("expected back-to-back booking to be free, got %d conflicts", len(conflicts))
	}
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2025-06-02T09:00:00", "2025-06-02T09:00", "2025-06-02 09:00:00", "2025-06-02T09:00:00+05:00"} {
		got, err := ParseTime(s)
		if err != nil {
			t.Errorf("ParseTime(%q): %v", s, err)
			continue
		}
		if !got.Equal(at(9, 0)) {
			t.Errorf("ParseTime(%q) = %v, want wall clock 09:00", s, got)
		}
	}
	if _, err := ParseTime("tomorrow"); err == nil {
		t.Error("expected error for unparseable time")
	}
}
