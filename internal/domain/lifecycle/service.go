// Package lifecycle applies staff and branch state changes and cascades them
// into mappings and bookings.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/carebook/scheduler/internal/domain/access"
	"github.com/carebook/scheduler/internal/domain/activity"
	"github.com/carebook/scheduler/internal/domain/appointment"
	"github.com/carebook/scheduler/internal/domain/directory"
	"github.com/carebook/scheduler/internal/platform/apperr"
	"github.com/carebook/scheduler/internal/platform/db"
	"github.com/carebook/scheduler/internal/platform/lock"
	"github.com/carebook/scheduler/internal/platform/telemetry"
)

// SystemActor is recorded on events emitted by background repairs.
const SystemActor = "system"

type Service struct {
	staff    directory.StaffRepository
	branches directory.BranchRepository
	mappings directory.MappingRepository
	appts    appointment.Repository
	tx       db.Transactor
	locker   lock.Locker
	audit    activity.Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

type Deps struct {
	Staff        directory.StaffRepository
	Branches     directory.BranchRepository
	Mappings     directory.MappingRepository
	Appointments appointment.Repository
	Tx           db.Transactor
	// Locker must be the one appointment bookings use, so that a cascade
	// and a booking for the same staff member serialize.
	Locker lock.Locker
	Audit  activity.Recorder
	Logger zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		staff:    d.Staff,
		branches: d.Branches,
		mappings: d.Mappings,
		appts:    d.Appointments,
		tx:       d.Tx,
		locker:   d.Locker,
		audit:    d.Audit,
		logger:   d.Logger,
		now:      time.Now,
	}
}

func (s *Service) stamp() string {
	return s.now().Format(directory.DisplayTimeLayout)
}

// wallNow is the zone-less current time appointments are compared against.
func (s *Service) wallNow() time.Time {
	t := s.now()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func requireLifecycle(caller access.Caller) error {
	if access.Authorize(caller, access.OpManageLifecycle, access.Resource{}) == access.Deny {
		return apperr.AccessDenied("only administrators can change staff or branch status")
	}
	return nil
}

// performerName resolves the display name recorded on events.
func (s *Service) performerName(ctx context.Context, caller access.Caller) string {
	if caller.Name != "" {
		return caller.Name
	}
	if st, err := s.staff.GetByID(ctx, caller.ID); err == nil && st != nil {
		return st.Name
	}
	return string(caller.Role)
}

func (s *Service) loadStaff(ctx context.Context, id uuid.UUID) (*directory.Staff, error) {
	st, err := s.staff.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperr.NotFound("Staff not found")
	}
	return st, nil
}

func (s *Service) loadBranch(ctx context.Context, id uuid.UUID) (*directory.Branch, error) {
	b, err := s.branches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperr.NotFound("Branch not found")
	}
	return b, nil
}

// inLockedTx runs fn in a transaction holding the given subject locks.
func (s *Service) inLockedTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	err := lock.InTx(ctx, s.tx, s.locker, keys, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return apperr.Wrap(apperr.ErrConflict, err, "Another change for this record is in progress, retry")
	}
	return err
}

// settle turns a failed cascade transaction into a CascadeFailure.
func (s *Service) settle(failure *CascadeFailure, err error) *CascadeFailure {
	var cf *CascadeFailure
	if !errors.As(err, &cf) {
		failure.Step, failure.Err = StepCommit, err
		cf = failure
	}
	if db.Atomic(s.tx) {
		cf.rollback()
	}
	return cf
}

func branchCodes(ms []*directory.Mapping) string {
	codes := make([]string, 0, len(ms))
	for _, m := range ms {
		codes = append(codes, m.BranchCode)
	}
	return strings.Join(codes, ",")
}

// -- Staff --

// DeactivateStaff marks a staff member inactive, removes every branch
// mapping and cancels their future scheduled appointments in one
// transaction. Past, cancelled and completed appointments are untouched.
func (s *Service) DeactivateStaff(ctx context.Context, caller access.Caller, id uuid.UUID) (out *StaffDeactivation, err error) {
	ctx, span := telemetry.StartSpan(ctx, "lifecycle.deactivate_staff", attribute.String("staff.id", id.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := requireLifecycle(caller); err != nil {
		return nil, err
	}
	st, err := s.loadStaff(ctx, id)
	if err != nil {
		return nil, err
	}
	if !st.IsActive {
		return &StaffDeactivation{Staff: st}, nil
	}

	// The cascade holds the staff lock that bookings take, so no booking for
	// this staff member can commit between the flag flip and the cancellation.
	res := &StaffDeactivation{}
	failure := &CascadeFailure{Entity: "staff", EntityID: id}
	var mapped []*directory.Mapping
	changed := false
	err = s.inLockedTx(ctx, []string{lock.StaffKey(id)}, func(ctx context.Context) error {
		cur, err := s.loadStaff(ctx, id)
		if err != nil {
			failure.Step, failure.Err = StepDeactivate, err
			return failure
		}
		if !cur.IsActive {
			res.Staff = cur
			return nil
		}
		if mapped, err = s.mappings.ListByStaff(ctx, id); err != nil {
			failure.Step, failure.Err = StepRemoveMappings, err
			return failure
		}

		next := *cur
		next.IsActive = false
		next.EndDate = s.stamp()
		if err := s.staff.Update(ctx, &next); err != nil {
			failure.Step, failure.Err = StepDeactivate, err
			return failure
		}
		res.Staff = &next

		removed, err := s.mappings.DeleteByStaff(ctx, id)
		if err != nil {
			failure.Step, failure.Err = StepRemoveMappings, err
			return failure
		}
		res.MappingsRemoved = removed
		failure.MappingsRemoved = removed

		cancelled, err := s.appts.CancelFutureForStaff(ctx, id, s.wallNow())
		if err != nil {
			failure.Step, failure.Err = StepCancelAppointments, err
			return failure
		}
		res.AppointmentsCancelled = len(cancelled)
		changed = true
		return nil
	})
	if errors.Is(err, apperr.ErrConflict) {
		return nil, err
	}
	if err != nil {
		cf := s.settle(failure, err)
		s.logger.Error().Err(cf.Err).
			Str("staff_id", id.String()).
			Str("step", cf.Step).
			Bool("rolled_back", cf.RolledBack).
			Int("mappings_removed", cf.MappingsRemoved).
			Int("appointments_cancelled", cf.AppointmentsCancelled).
			Msg("staff deactivation cascade failed")
		return nil, cf
	}
	if !changed {
		return res, nil
	}

	s.audit.Record(ctx, &activity.Event{
		EntityType:      activity.EntityStaff,
		EntityID:        id.String(),
		ActionType:      activity.ActionDeactivated,
		Description:     res.Staff.DisplayName() + " deactivated",
		PerformedBy:     caller.Actor(),
		PerformedByName: s.performerName(ctx, caller),
		State: map[string]interface{}{
			"isActive":              false,
			"deactivatedDate":       res.Staff.EndDate,
			"mappingsRemoved":       res.MappingsRemoved,
			"appointmentsCancelled": res.AppointmentsCancelled,
		},
		RelatedEntities: map[string]string{
			"staffId":  id.String(),
			"role":     string(st.Role),
			"branches": branchCodes(mapped),
		},
		ImpactSummary: fmt.Sprintf("%d branch mappings removed, %d future appointments cancelled",
			res.MappingsRemoved, res.AppointmentsCancelled),
	})
	s.logger.Info().
		Str("staff_id", id.String()).
		Int("mappings_removed", res.MappingsRemoved).
		Int("appointments_cancelled", res.AppointmentsCancelled).
		Msg("staff deactivated")
	return res, nil
}

// ReactivateStaff marks a staff member active again. Mappings and cancelled
// appointments are not restored.
func (s *Service) ReactivateStaff(ctx context.Context, caller access.Caller, id uuid.UUID) (*directory.Staff, error) {
	if err := requireLifecycle(caller); err != nil {
		return nil, err
	}
	st, err := s.loadStaff(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.IsActive {
		return st, nil
	}

	changed := false
	err = s.inLockedTx(ctx, []string{lock.StaffKey(id)}, func(ctx context.Context) error {
		cur, err := s.loadStaff(ctx, id)
		if err != nil {
			return err
		}
		st = cur
		if cur.IsActive {
			return nil
		}
		cur.IsActive = true
		cur.StartDate = s.stamp()
		cur.EndDate = ""
		changed = true
		return s.staff.Update(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return st, nil
	}

	s.audit.Record(ctx, &activity.Event{
		EntityType:      activity.EntityStaff,
		EntityID:        id.String(),
		ActionType:      activity.ActionReactivated,
		Description:     st.DisplayName() + " reactivated",
		PerformedBy:     caller.Actor(),
		PerformedByName: s.performerName(ctx, caller),
		State: map[string]interface{}{
			"isActive":        true,
			"reactivatedDate": st.StartDate,
		},
		RelatedEntities: map[string]string{"staffId": id.String(), "role": string(st.Role)},
	})
	return st, nil
}

// UpdateStaff applies a partial update. Changing is_active runs
// DeactivateStaff or ReactivateStaff.
func (s *Service) UpdateStaff(ctx context.Context, caller access.Caller, id uuid.UUID, p StaffPatch) (*directory.Staff, error) {
	if err := requireLifecycle(caller); err != nil {
		return nil, err
	}
	if _, err := s.loadStaff(ctx, id); err != nil {
		return nil, err
	}

	var name, email string
	var role access.Role
	if p.Name != nil {
		if name = strings.TrimSpace(*p.Name); name == "" {
			return nil, apperr.Validation("name cannot be empty")
		}
	}
	if p.Email != nil {
		email = strings.ToLower(strings.TrimSpace(*p.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, apperr.Validation("email is not a valid address")
		}
	}
	if p.Role != nil {
		r, err := access.ParseRole(*p.Role)
		if err != nil || !r.IsStaff() {
			return nil, apperr.Validation("role must be one of admin, doctor, receptionist, customer_care")
		}
		role = r
	}

	var st *directory.Staff
	changed := false
	err := s.inLockedTx(ctx, []string{lock.StaffKey(id)}, func(ctx context.Context) error {
		cur, err := s.loadStaff(ctx, id)
		if err != nil {
			return err
		}
		next := *cur
		if name != "" {
			next.Name = name
		}
		if role != "" {
			next.Role = role
		}
		if email != "" && email != cur.Email {
			existing, err := s.staff.GetByEmail(ctx, email)
			if err != nil {
				return err
			}
			if existing != nil && existing.ID != id {
				return apperr.Conflict("Staff with email %s already exists", email)
			}
			next.Email = email
		}
		st = &next
		if next == *cur {
			return nil
		}
		changed = true
		if err := s.staff.Update(ctx, &next); err != nil {
			if db.IsUniqueViolation(err) {
				return apperr.Conflict("Staff with email %s already exists", email)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.audit.Record(ctx, &activity.Event{
			EntityType:      activity.EntityStaff,
			EntityID:        id.String(),
			ActionType:      activity.ActionUpdated,
			Description:     st.DisplayName() + " updated",
			PerformedBy:     caller.Actor(),
			PerformedByName: s.performerName(ctx, caller),
			State: map[string]interface{}{
				"name":  st.Name,
				"email": st.Email,
				"role":  string(st.Role),
			},
			RelatedEntities: map[string]string{"staffId": id.String(), "role": string(st.Role)},
		})
	}

	if p.IsActive != nil && *p.IsActive != st.IsActive {
		if *p.IsActive {
			return s.ReactivateStaff(ctx, caller, id)
		}
		res, err := s.DeactivateStaff(ctx, caller, id)
		if err != nil {
			return nil, err
		}
		return res.Staff, nil
	}
	return st, nil
}

// -- Branch --

// DeactivateBranch closes a branch and removes its staff mappings.
// Appointments at the branch are left as they are.
func (s *Service) DeactivateBranch(ctx context.Context, caller access.Caller, id uuid.UUID) (out *BranchDeactivation, err error) {
	ctx, span := telemetry.StartSpan(ctx, "lifecycle.deactivate_branch", attribute.String("branch.id", id.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := requireLifecycle(caller); err != nil {
		return nil, err
	}
	b, err := s.loadBranch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsActive {
		return &BranchDeactivation{Branch: b}, nil
	}
	return s.closeBranch(ctx, caller, b)
}

func (s *Service) closeBranch(ctx context.Context, caller access.Caller, b *directory.Branch) (*BranchDeactivation, error) {
	res := &BranchDeactivation{}
	failure := &CascadeFailure{Entity: "branch", EntityID: b.ID}
	err := s.inLockedTx(ctx, []string{lock.BranchKey(b.ID)}, func(ctx context.Context) error {
		next := *b
		next.IsActive = false
		next.ClosedAt = s.stamp()
		if err := s.branches.Update(ctx, &next); err != nil {
			failure.Step, failure.Err = StepDeactivate, err
			return failure
		}
		res.Branch = &next

		removed, err := s.mappings.DeleteByBranch(ctx, b.ID)
		if err != nil {
			failure.Step, failure.Err = StepRemoveMappings, err
			return failure
		}
		res.MappingsRemoved = removed
		failure.MappingsRemoved = removed
		return nil
	})
	if errors.Is(err, apperr.ErrConflict) {
		return nil, err
	}
	if err != nil {
		cf := s.settle(failure, err)
		s.logger.Error().Err(cf.Err).
			Str("branch_id", b.ID.String()).
			Str("step", cf.Step).
			Bool("rolled_back", cf.RolledBack).
			Msg("branch deactivation cascade failed")
		return nil, cf
	}

	s.audit.Record(ctx, &activity.Event{
		EntityType:      activity.EntityBranch,
		EntityID:        b.ID.String(),
		ActionType:      activity.ActionDeactivated,
		Description:     fmt.Sprintf("Branch %s deactivated", b.BranchCode),
		PerformedBy:     caller.Actor(),
		PerformedByName: s.performerName(ctx, caller),
		State: map[string]interface{}{
			"isActive":        false,
			"closedAt":        res.Branch.ClosedAt,
			"mappingsRemoved": res.MappingsRemoved,
		},
		RelatedEntities: map[string]string{"branchId": b.ID.String(), "branchCode": b.BranchCode},
		ImpactSummary:   fmt.Sprintf("Branch closed with %d staff mappings removed", res.MappingsRemoved),
	})
	return res, nil
}

func (s *Service) reopenBranch(ctx context.Context, caller access.Caller, b *directory.Branch) error {
	b.IsActive = true
	b.ClosedAt = ""
	if err := s.branches.Update(ctx, b); err != nil {
		return err
	}
	s.audit.Record(ctx, &activity.Event{
		EntityType:      activity.EntityBranch,
		EntityID:        b.ID.String(),
		ActionType:      activity.ActionReactivated,
		Description:     fmt.Sprintf("Branch %s reactivated", b.BranchCode),
		PerformedBy:     caller.Actor(),
		PerformedByName: s.performerName(ctx, caller),
		State:           map[string]interface{}{"isActive": true},
		RelatedEntities: map[string]string{"branchId": b.ID.String(), "branchCode": b.BranchCode},
	})
	return nil
}

// UpdateBranch applies a partial update. Changing is_active runs the same
// cascade as DeactivateBranch, or reopens the branch.
func (s *Service) UpdateBranch(ctx context.Context, caller access.Caller, id uuid.UUID, p BranchPatch) (*directory.Branch, error) {
	if err := requireLifecycle(caller); err != nil {
		return nil, err
	}
	b, err := s.loadBranch(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *b
	if p.BranchCode != nil {
		code := strings.TrimSpace(*p.BranchCode)
		if code == "" {
			return nil, apperr.Validation("branch_code cannot be empty")
		}
		if code != b.BranchCode {
			existing, err := s.branches.GetByCode(ctx, code)
			if err != nil {
				return nil, err
			}
			if existing != nil && existing.ID != id {
				return nil, apperr.Conflict("Branch code already exists")
			}
		}
		next.BranchCode = code
	}
	if p.Email != nil && *p.Email != "" {
		if _, err := mail.ParseAddress(*p.Email); err != nil {
			return nil, apperr.Validation("email is not a valid address")
		}
	}
	for dst, src := range map[*string]*string{
		&next.Address: p.Address, &next.City: p.City, &next.State: p.State,
		&next.ZipCode: p.ZipCode, &next.Email: p.Email, &next.PhoneNumber: p.PhoneNumber,
	} {
		if src != nil {
			*dst = *src
		}
	}

	if next != *b {
		if err := s.branches.Update(ctx, &next); err != nil {
			if db.IsUniqueViolation(err) {
				return nil, apperr.Conflict("Branch code already exists")
			}
			return nil, err
		}
		s.audit.Record(ctx, &activity.Event{
			EntityType:      activity.EntityBranch,
			EntityID:        id.String(),
			ActionType:      activity.ActionUpdated,
			Description:     fmt.Sprintf("Branch %s updated", next.BranchCode),
			PerformedBy:     caller.Actor(),
			PerformedByName: s.performerName(ctx, caller),
			RelatedEntities: map[string]string{"branchId": id.String(), "branchCode": next.BranchCode},
		})
	}

	if p.IsActive != nil && *p.IsActive != next.IsActive {
		if *p.IsActive {
			if err := s.reopenBranch(ctx, caller, &next); err != nil {
				return nil, err
			}
			return &next, nil
		}
		res, err := s.closeBranch(ctx, caller, &next)
		if err != nil {
			return nil, err
		}
		return res.Branch, nil
	}
	return &next, nil
}

// -- Mappings --

func (s *Service) AssignStaffToBranch(ctx context.Context, caller access.Caller, in AssignInput) (*directory.Mapping, error) {
	if access.Authorize(caller, access.OpManageMappings, access.Resource{}) == access.Deny {
		return nil, apperr.AccessDenied("only administrators can assign staff to branches")
	}
	if in.StaffID == uuid.Nil || in.BranchID == uuid.Nil {
		return nil, apperr.Validation("staff_id and branch_id are required")
	}
	// Both records are read under the locks their deactivations take, so a
	// mapping is never created for staff or a branch that is being closed.
	var (
		st *directory.Staff
		b  *directory.Branch
		m  *directory.Mapping
	)
	keys := []string{lock.StaffKey(in.StaffID), lock.BranchKey(in.BranchID)}
	err := s.inLockedTx(ctx, keys, func(ctx context.Context) error {
		var err error
		if st, err = s.loadStaff(ctx, in.StaffID); err != nil {
			return err
		}
		if !st.IsActive {
			return apperr.Validation("Cannot assign inactive staff member %s", st.Name)
		}
		if b, err = s.loadBranch(ctx, in.BranchID); err != nil {
			return err
		}
		if !b.IsActive {
			return apperr.Validation("Cannot assign staff to inactive branch %s", b.BranchCode)
		}

		existing, err := s.mappings.Get(ctx, in.StaffID, in.BranchID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Conflict("Staff %s is already assigned to branch %s", st.Name, b.BranchCode)
		}

		m = &directory.Mapping{StaffID: st.ID, BranchID: b.ID, StaffName: st.Name, BranchCode: b.BranchCode}
		if err := s.mappings.Create(ctx, m); err != nil {
			if db.IsUniqueViolation(err) {
				return apperr.Conflict("Staff %s is already assigned to branch %s", st.Name, b.BranchCode)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, &activity.Event{
		EntityType:      activity.EntityMapping,
		EntityID:        m.ID.String(),
		ActionType:      activity.ActionMappingCreated,
		Description:     fmt.Sprintf("%s assigned to %s", st.DisplayName(), b.BranchCode),
		PerformedBy:     caller.Actor(),
		PerformedByName: s.performerName(ctx, caller),
		RelatedEntities: map[string]string{
			"staffId":    st.ID.String(),
			"branchId":   b.ID.String(),
			"branchCode": b.BranchCode,
		},
	})
	return m, nil
}

func (s *Service) RemoveStaffFromBranch(ctx context.Context, caller access.Caller, staffID, branchID uuid.UUID) error {
	if access.Authorize(caller, access.OpManageMappings, access.Resource{}) == access.Deny {
		return apperr.AccessDenied("only administrators can remove staff from branches")
	}
	m, err := s.mappings.Get(ctx, staffID, branchID)
	if err != nil {
		return err
	}
	if m == nil {
		return apperr.NotFound("Staff is not assigned to this branch")
	}
	removed, err := s.mappings.Delete(ctx, staffID, branchID)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.NotFound("Staff is not assigned to this branch")
	}

	s.audit.Record(ctx, &activity.Event{
		EntityType:      activity.EntityMapping,
		EntityID:        staffID.String() + "-" + branchID.String(),
		ActionType:      activity.ActionMappingRemoved,
		Description:     fmt.Sprintf("%s removed from branch %s", m.StaffName, m.BranchCode),
		PerformedBy:     caller.Actor(),
		PerformedByName: s.performerName(ctx, caller),
		RelatedEntities: map[string]string{
			"staffId":    staffID.String(),
			"branchId":   branchID.String(),
			"branchCode": m.BranchCode,
		},
	})
	return nil
}

func (s *Service) ListMappings(ctx context.Context, caller access.Caller, limit, offset int) ([]*directory.Mapping, int, error) {
	if access.Authorize(caller, access.OpManageMappings, access.Resource{}) == access.Deny {
		return nil, 0, apperr.AccessDenied("only administrators can list all mappings")
	}
	return s.mappings.List(ctx, limit, offset)
}

// -- Reconcile --

const reconcilePageSize = 100

// Reconcile re-applies the deactivation cascade to every inactive staff
// member and branch. It repairs drift left by failed cascades or by writes
// that bypassed this service, and records an event for each repair.
func (s *Service) Reconcile(ctx context.Context) (report *ReconcileReport, err error) {
	ctx, span := telemetry.StartSpan(ctx, "lifecycle.reconcile")
	defer func() { telemetry.EndSpan(span, err) }()

	report = &ReconcileReport{}
	inactive := false

	for offset := 0; ; offset += reconcilePageSize {
		staff, _, err := s.staff.List(ctx, directory.StaffFilter{Active: &inactive}, reconcilePageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list inactive staff: %w", err)
		}
		for _, st := range staff {
			report.StaffChecked++
			if err := s.reconcileStaff(ctx, st, report); err != nil {
				return nil, err
			}
		}
		if len(staff) < reconcilePageSize {
			break
		}
	}

	for offset := 0; ; offset += reconcilePageSize {
		branches, _, err := s.branches.List(ctx, &inactive, reconcilePageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list inactive branches: %w", err)
		}
		for _, b := range branches {
			report.BranchesChecked++
			if err := s.reconcileBranch(ctx, b, report); err != nil {
				return nil, err
			}
		}
		if len(branches) < reconcilePageSize {
			break
		}
	}

	s.logger.Info().
		Int("staff_checked", report.StaffChecked).
		Int("branches_checked", report.BranchesChecked).
		Int("mappings_removed", report.MappingsRemoved).
		Int("appointments_cancelled", report.AppointmentsCancelled).
		Msg("reconcile finished")
	return report, nil
}

func (s *Service) reconcileStaff(ctx context.Context, st *directory.Staff, report *ReconcileReport) error {
	var removed, cancelled int
	err := lock.InTx(ctx, s.tx, s.locker, []string{lock.StaffKey(st.ID)}, func(ctx context.Context) error {
		cur, err := s.staff.GetByID(ctx, st.ID)
		if err != nil {
			return err
		}
		if cur == nil || cur.IsActive {
			return nil
		}
		if removed, err = s.mappings.DeleteByStaff(ctx, st.ID); err != nil {
			return err
		}
		ids, err := s.appts.CancelFutureForStaff(ctx, st.ID, s.wallNow())
		cancelled = len(ids)
		return err
	})
	if err != nil {
		return fmt.Errorf("reconcile staff %s: %w", st.ID, err)
	}
	if removed == 0 && cancelled == 0 {
		return nil
	}
	report.MappingsRemoved += removed
	report.AppointmentsCancelled += cancelled

	s.audit.Record(ctx, &activity.Event{
		EntityType:      activity.EntityStaff,
		EntityID:        st.ID.String(),
		ActionType:      activity.ActionReconciled,
		Description:     st.DisplayName() + " reconciled",
		PerformedBy:     SystemActor,
		PerformedByName: SystemActor,
		State: map[string]interface{}{
			"mappingsRemoved":       removed,
			"appointmentsCancelled": cancelled,
		},
		RelatedEntities: map[string]string{"staffId": st.ID.String()},
		ImpactSummary:   fmt.Sprintf("%d branch mappings removed, %d future appointments cancelled", removed, cancelled),
	})
	return nil
}

func (s *Service) reconcileBranch(ctx context.Context, b *directory.Branch, report *ReconcileReport) error {
	var removed int
	err := lock.InTx(ctx, s.tx, s.locker, []string{lock.BranchKey(b.ID)}, func(ctx context.Context) error {
		cur, err := s.branches.GetByID(ctx, b.ID)
		if err != nil || cur == nil || cur.IsActive {
			return err
		}
		removed, err = s.mappings.DeleteByBranch(ctx, b.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("reconcile branch %s: %w", b.ID, err)
	}
	if removed == 0 {
		return nil
	}
	report.MappingsRemoved += removed

	s.audit.Record(ctx, &activity.Event{
		EntityType:      activity.EntityBranch,
		EntityID:        b.ID.String(),
		ActionType:      activity.ActionReconciled,
		Description:     fmt.Sprintf("Branch %s reconciled", b.BranchCode),
		PerformedBy:     SystemActor,
		PerformedByName: SystemActor,
		State:           map[string]interface{}{"mappingsRemoved": removed},
		RelatedEntities: map[string]string{"branchId": b.ID.String(), "branchCode": b.BranchCode},
		ImpactSummary:   fmt.Sprintf("Branch closed with %d staff mappings removed", removed),
	})
	return nil
}
