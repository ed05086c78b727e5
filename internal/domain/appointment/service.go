package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/carebook/scheduler/internal/domain/access"
	"github.com/carebook/scheduler/internal/domain/activity"
	"github.com/carebook/scheduler/internal/domain/directory"
	"github.com/carebook/scheduler/internal/platform/apperr"
	"github.com/carebook/scheduler/internal/platform/db"
	"github.com/carebook/scheduler/internal/platform/lock"
	"github.com/carebook/scheduler/internal/platform/telemetry"
)

type Service struct {
	appts    Repository
	staff    directory.StaffRepository
	patients directory.PatientRepository
	branches directory.BranchRepository
	detector *Detector
	locker   lock.Locker
	tx       db.Transactor
	audit    activity.Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

type Deps struct {
	Appointments Repository
	Staff        directory.StaffRepository
	Patients     directory.PatientRepository
	Branches     directory.BranchRepository
	Locker       lock.Locker
	Tx           db.Transactor
	Audit        activity.Recorder
	Logger       zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		appts:    d.Appointments,
		staff:    d.Staff,
		patients: d.Patients,
		branches: d.Branches,
		detector: NewDetector(d.Appointments),
		locker:   d.Locker,
		tx:       d.Tx,
		audit:    d.Audit,
		logger:   d.Logger,
		now:      time.Now,
	}
}

// clock returns the current wall-clock time in the zone-less form
// appointments are stored in.
func (s *Service) clock() time.Time {
	return wallClock(s.now())
}

type CreateInput struct {
	Title       string
	Description string
	Category    string
	StaffID     uuid.UUID
	PatientID   uuid.UUID
	BranchID    *uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Status      *Status
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Title       *string
	Description *string
	Category    *string
	BranchID    *uuid.UUID
	StartTime   *time.Time
	EndTime     *time.Time
	Status      *Status
}

func validateInterval(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperr.Validation("start_time and end_time are required")
	}
	if !end.After(start) {
		return apperr.Validation("end_time must be after start_time")
	}
	if end.Sub(start) > MaxDuration {
		return apperr.Validation("Appointment cannot be longer than 4 hours")
	}
	return nil
}

func validateCategory(c string) (string, error) {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return DefaultCategory, nil
	}
	if !validCategories[c] {
		return "", apperr.Validation("invalid category: %s", c)
	}
	return c, nil
}

func conflictError(a *Appointment) error {
	return apperr.SchedulingConflict("Appointment conflicts with existing appointment: %s", a.Title)
}

func resourceOf(a *Appointment) access.Resource {
	return access.Resource{StaffID: a.StaffID, PatientID: a.PatientID, BranchID: a.BranchID}
}

// inLockedTx runs fn in a transaction holding the per-subject locks of a
// booking change.
func (s *Service) inLockedTx(ctx context.Context, staffID, patientID uuid.UUID, fn func(ctx context.Context) error) error {
	keys := []string{lock.StaffKey(staffID), lock.PatientKey(patientID)}
	err := lock.InTx(ctx, s.tx, s.locker, keys, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return apperr.Wrap(apperr.ErrSchedulingConflict, err,
			"Another booking for this staff member or patient is in progress")
	}
	return err
}

// checkParticipants verifies the staff member, patient and branch exist and
// are active.
func (s *Service) checkParticipants(ctx context.Context, staffID, patientID uuid.UUID, branchID *uuid.UUID) error {
	if err := s.checkStaffActive(ctx, staffID); err != nil {
		return err
	}

	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return err
	}
	if p == nil {
		return apperr.NotFound("Patient not found")
	}
	if !p.IsActive {
		return apperr.Validation("Patient %s is not active", p.Name)
	}

	if branchID != nil {
		b, err := s.branches.GetByID(ctx, *branchID)
		if err != nil {
			return err
		}
		if b == nil {
			return apperr.NotFound("Branch not found")
		}
		if !b.IsActive {
			return apperr.Validation("Branch %s is not active", b.BranchCode)
		}
	}
	return nil
}

func (s *Service) checkStaffActive(ctx context.Context, staffID uuid.UUID) error {
	st, err := s.staff.GetByID(ctx, staffID)
	if err != nil {
		return err
	}
	if st == nil {
		return apperr.NotFound("Staff not found")
	}
	if !st.IsActive {
		return apperr.Validation("Staff member %s is not active", st.Name)
	}
	return nil
}

// mapStoreError turns constraint violations raised by the store into domain
// errors.
func mapStoreError(err error) error {
	if db.IsExclusionViolation(err) {
		return apperr.Wrap(apperr.ErrSchedulingConflict, err, "Appointment conflicts with an existing appointment")
	}
	return err
}

// Create books a new appointment.
func (s *Service) Create(ctx context.Context, caller access.Caller, in CreateInput) (a *Appointment, err error) {
	ctx, span := telemetry.StartSpan(ctx, "appointment.create",
		attribute.String("staff.id", in.StaffID.String()),
		attribute.String("patient.id", in.PatientID.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Validation("title is required")
	}
	if in.StaffID == uuid.Nil {
		return nil, apperr.Validation("staff_id is required")
	}
	if in.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	start, end := wallClock(in.StartTime), wallClock(in.EndTime)
	if err := validateInterval(start, end); err != nil {
		return nil, err
	}
	if start.Before(s.clock()) {
		return nil, apperr.Validation("Cannot create appointments in the past")
	}
	category, err := validateCategory(in.Category)
	if err != nil {
		return nil, err
	}

	status := StatusScheduled
	if in.Status != nil && *in.Status != StatusScheduled {
		if !validStatuses[*in.Status] {
			return nil, apperr.Validation("invalid status: %s", *in.Status)
		}
		if access.Authorize(caller, access.OpOverrideStatus, access.Resource{}) == access.Deny {
			return nil, apperr.AccessDenied("not allowed to create appointments with status %s", *in.Status)
		}
		status = *in.Status
	}

	candidate := &Appointment{
		Title:       title,
		Description: in.Description,
		Category:    category,
		StaffID:     in.StaffID,
		PatientID:   in.PatientID,
		BranchID:    in.BranchID,
		StartTime:   start,
		EndTime:     end,
		Status:      status,
	}
	if access.Authorize(caller, access.OpCreate, resourceOf(candidate)) == access.Deny {
		return nil, apperr.AccessDenied("not allowed to create this appointment")
	}

	// Participants are checked under the staff lock, which staff
	// deactivation also holds.
	err = s.inLockedTx(ctx, candidate.StaffID, candidate.PatientID, func(ctx context.Context) error {
		if err := s.checkParticipants(ctx, in.StaffID, in.PatientID, in.BranchID); err != nil {
			return err
		}
		if candidate.Status == StatusScheduled {
			conflicts, err := s.detector.Check(ctx, candidate.StaffID, candidate.PatientID, start, end, uuid.Nil)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				return conflictError(conflicts[0])
			}
		}
		return mapStoreError(s.appts.Create(ctx, candidate))
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, caller, candidate, activity.ActionCreated,
		fmt.Sprintf("Appointment %q created", candidate.Title))
	return candidate, nil
}

// Update applies a partial change to an appointment.
func (s *Service) Update(ctx context.Context, caller access.Caller, id uuid.UUID, in UpdateInput) (a *Appointment, err error) {
	ctx, span := telemetry.StartSpan(ctx, "appointment.update", attribute.String("appointment.id", id.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	existing, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperr.NotFound("Appointment not found")
	}
	if access.Authorize(caller, access.OpWrite, resourceOf(existing)) == access.Deny {
		return nil, apperr.AccessDenied("not allowed to update this appointment")
	}
	if in.BranchID != nil &&
		access.Authorize(caller, access.OpWrite, access.Resource{StaffID: existing.StaffID, PatientID: existing.PatientID, BranchID: in.BranchID}) == access.Deny {
		return nil, apperr.AccessDenied("not allowed to move this appointment to that branch")
	}

	if in.Status != nil && *in.Status != existing.Status &&
		access.Authorize(caller, access.OpOverrideStatus, access.Resource{}) == access.Deny {
		return nil, apperr.AccessDenied("not allowed to change the status of this appointment")
	}

	var updated *Appointment
	err = s.inLockedTx(ctx, existing.StaffID, existing.PatientID, func(ctx context.Context) error {
		cur, err := s.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return apperr.NotFound("Appointment not found")
		}
		next, err := s.applyPatch(ctx, cur, in)
		if err != nil {
			return err
		}

		timesChanged := !next.StartTime.Equal(cur.StartTime) || !next.EndTime.Equal(cur.EndTime)
		if next.Status == StatusScheduled && timesChanged {
			if err := s.checkStaffActive(ctx, next.StaffID); err != nil {
				return err
			}
			conflicts, err := s.detector.Check(ctx, next.StaffID, next.PatientID, next.StartTime, next.EndTime, next.ID)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				return conflictError(conflicts[0])
			}
		}
		if err := mapStoreError(s.appts.Update(ctx, next)); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	action, desc := activity.ActionUpdated, fmt.Sprintf("Appointment %q updated", updated.Title)
	if existing.Status == StatusScheduled && updated.Status == StatusCancelled {
		action, desc = activity.ActionCancelled, fmt.Sprintf("Appointment %q cancelled", updated.Title)
	}
	s.record(ctx, caller, updated, action, desc)
	return updated, nil
}

// applyPatch returns a copy of cur with in applied and validated.
func (s *Service) applyPatch(ctx context.Context, cur *Appointment, in UpdateInput) (*Appointment, error) {
	next := *cur

	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, apperr.Validation("title cannot be empty")
		}
		next.Title = t
	}
	if in.Description != nil {
		next.Description = *in.Description
	}
	if in.Category != nil {
		c, err := validateCategory(*in.Category)
		if err != nil {
			return nil, err
		}
		next.Category = c
	}
	if in.BranchID != nil && (cur.BranchID == nil || *cur.BranchID != *in.BranchID) {
		b, err := s.branches.GetByID(ctx, *in.BranchID)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, apperr.NotFound("Branch not found")
		}
		if !b.IsActive {
			return nil, apperr.Validation("Branch %s is not active", b.BranchCode)
		}
		id := *in.BranchID
		next.BranchID = &id
	}
	if in.StartTime != nil {
		start := wallClock(*in.StartTime)
		if !start.Equal(cur.StartTime) && start.Before(s.clock()) {
			return nil, apperr.Validation("Cannot move appointments into the past")
		}
		next.StartTime = start
	}
	if in.EndTime != nil {
		next.EndTime = wallClock(*in.EndTime)
	}
	if err := validateInterval(next.StartTime, next.EndTime); err != nil {
		return nil, err
	}

	if in.Status != nil && *in.Status != cur.Status {
		if !validStatuses[*in.Status] {
			return nil, apperr.Validation("invalid status: %s", *in.Status)
		}
		if cur.Status.Terminal() {
			return nil, apperr.Validation("Cannot change status of a %s appointment", cur.Status)
		}
		next.Status = *in.Status
	}
	return &next, nil
}

// Delete removes an appointment permanently.
func (s *Service) Delete(ctx context.Context, caller access.Caller, id uuid.UUID) error {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return apperr.NotFound("Appointment not found")
	}
	if access.Authorize(caller, access.OpWrite, resourceOf(a)) == access.Deny {
		return apperr.AccessDenied("not allowed to delete this appointment")
	}
	if err := s.appts.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, caller, a, activity.ActionDeleted, fmt.Sprintf("Appointment %q deleted", a.Title))
	return nil
}

// BulkDelete removes every listed appointment or none of them. Every id is
// loaded and authorized before anything is deleted.
func (s *Service) BulkDelete(ctx context.Context, caller access.Caller, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, apperr.Validation("ids must not be empty")
	}
	unique := make([]uuid.UUID, 0, len(ids))
	seen := map[uuid.UUID]bool{}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	found, err := s.appts.GetMany(ctx, unique)
	if err != nil {
		return 0, err
	}
	byID := make(map[uuid.UUID]*Appointment, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}
	var missing []string
	for _, id := range unique {
		if byID[id] == nil {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		return 0, apperr.NotFound("Appointments not found: %s", strings.Join(missing, ", "))
	}
	for _, id := range unique {
		if access.Authorize(caller, access.OpWrite, resourceOf(byID[id])) == access.Deny {
			return 0, apperr.AccessDenied("not allowed to delete appointment %s", id)
		}
	}

	var n int
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.appts.DeleteMany(ctx, unique)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, id := range unique {
		a := byID[id]
		s.record(ctx, caller, a, activity.ActionDeleted, fmt.Sprintf("Appointment %q deleted", a.Title))
	}
	return n, nil
}

// Get returns the appointment, or nil when it does not exist or the caller
// may not see it.
func (s *Service) Get(ctx context.Context, caller access.Caller, id uuid.UUID) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil || a == nil {
		return nil, err
	}
	if access.Authorize(caller, access.OpRead, resourceOf(a)) == access.Deny {
		return nil, nil
	}
	return a, nil
}

// List returns appointments visible to the caller matching f.
func (s *Service) List(ctx context.Context, caller access.Caller, f Filter, limit, offset int) ([]*Appointment, int, error) {
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, 0, apperr.Validation("from must be before to")
	}
	if f.Status != nil && !validStatuses[*f.Status] {
		return nil, 0, apperr.Validation("invalid status: %s", *f.Status)
	}
	if f.Category != "" {
		c := strings.ToLower(strings.TrimSpace(f.Category))
		if !validCategories[c] {
			return nil, 0, apperr.Validation("invalid category: %s", f.Category)
		}
		f.Category = c
	}

	scope, decision := access.ScopeList(caller, access.ListScope{
		StaffID:   f.StaffID,
		PatientID: f.PatientID,
		BranchID:  f.BranchID,
	})
	if decision == access.Deny {
		return nil, 0, apperr.AccessDenied("not allowed to list these appointments")
	}
	f.StaffID, f.PatientID, f.BranchID, f.Branches = scope.StaffID, scope.PatientID, scope.BranchID, scope.Branches
	return s.appts.List(ctx, f, limit, offset)
}

// CheckCollision reports every scheduled appointment that a booking of the
// given subjects over [start, end) would collide with. It changes nothing.
func (s *Service) CheckCollision(ctx context.Context, caller access.Caller, staffID, patientID uuid.UUID, start, end time.Time) ([]*Appointment, error) {
	if !caller.Role.IsStaff() && (caller.ID != patientID || staffID != uuid.Nil) {
		return nil, apperr.AccessDenied("not allowed to probe this schedule")
	}
	if staffID == uuid.Nil && patientID == uuid.Nil {
		return nil, apperr.Validation("staff_id or patient_id is required")
	}
	start, end = wallClock(start), wallClock(end)
	if !end.After(start) {
		return nil, apperr.Validation("end_time must be after start_time")
	}
	return s.detector.Check(ctx, staffID, patientID, start, end, uuid.Nil)
}

func (s *Service) record(ctx context.Context, caller access.Caller, a *Appointment, action activity.Action, desc string) {
	related := map[string]string{
		"staffId":   a.StaffID.String(),
		"patientId": a.PatientID.String(),
	}
	if a.BranchID != nil {
		related["branchId"] = a.BranchID.String()
	}
	s.audit.Record(ctx, &activity.Event{
		EntityType:      activity.EntityAppointment,
		EntityID:        a.ID.String(),
		ActionType:      action,
		Description:     desc,
		PerformedBy:     caller.Actor(),
		PerformedByName: caller.Name,
		State: map[string]interface{}{
			"status":    string(a.Status),
			"startTime": a.StartTime.Format("2006-01-02T15:04:05"),
			"endTime":   a.EndTime.Format("2006-01-02T15:04:05"),
		},
		RelatedEntities: related,
	})
}
