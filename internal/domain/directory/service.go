package directory

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/scheduler/internal/domain/access"
	"github.com/carebook/scheduler/internal/platform/apperr"
	"github.com/carebook/scheduler/internal/platform/db"
)

// Service owns directory records. Lifecycle transitions (deactivation,
// mappings) live in the lifecycle package; this is plain CRUD.
type Service struct {
	staff    StaffRepository
	patients PatientRepository
	branches BranchRepository
	mappings MappingRepository
	now      func() time.Time
}

func NewService(staff StaffRepository, patients PatientRepository, branches BranchRepository, mappings MappingRepository) *Service {
	return &Service{staff: staff, patients: patients, branches: branches, mappings: mappings, now: time.Now}
}

// -- Staff --

type CreateStaffInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Service) CreateStaff(ctx context.Context, caller access.Caller, in CreateStaffInput) (*Staff, error) {
	if access.Authorize(caller, access.OpManageDirectory, access.Resource{}) == access.Deny {
		return nil, apperr.AccessDenied("only administrators can create staff")
	}
	name, email, err := validateContact(in.Name, in.Email)
	if err != nil {
		return nil, err
	}
	role, err := access.ParseRole(in.Role)
	if err != nil || !role.IsStaff() {
		return nil, apperr.Validation("role must be one of admin, doctor, receptionist, customer_care")
	}

	existing, err := s.staff.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("Staff with email %s already exists", email)
	}

	st := &Staff{
		Name:      name,
		Email:     email,
		Role:      role,
		IsActive:  true,
		StartDate: s.now().Format(DisplayTimeLayout),
	}
	if err := s.staff.Create(ctx, st); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("Staff with email %s already exists", email)
		}
		return nil, err
	}
	return st, nil
}

func (s *Service) GetStaff(ctx context.Context, caller access.Caller, id uuid.UUID) (*Staff, error) {
	if !caller.Role.IsStaff() && caller.ID != id {
		return nil, apperr.AccessDenied("not allowed to view staff records")
	}
	st, err := s.staff.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperr.NotFound("Staff not found")
	}
	return st, nil
}

func (s *Service) ListStaff(ctx context.Context, caller access.Caller, f StaffFilter, limit, offset int) ([]*Staff, int, error) {
	if !caller.Role.IsStaff() {
		return nil, 0, apperr.AccessDenied("not allowed to list staff")
	}
	return s.staff.List(ctx, f, limit, offset)
}

// StaffBranches lists the branches a staff member is assigned to.
func (s *Service) StaffBranches(ctx context.Context, caller access.Caller, staffID uuid.UUID) ([]*Mapping, error) {
	if access.Authorize(caller, access.OpReadMappings, access.Resource{StaffID: staffID}) == access.Deny {
		return nil, apperr.AccessDenied("not allowed to view branch assignments of this staff member")
	}
	return s.mappings.ListByStaff(ctx, staffID)
}

// -- Patient --

type RegisterPatientInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (s *Service) RegisterPatient(ctx context.Context, caller access.Caller, in RegisterPatientInput) (*Patient, error) {
	if access.Authorize(caller, access.OpRegisterPatient, access.Resource{}) == access.Deny {
		return nil, apperr.AccessDenied("not allowed to register patients")
	}
	name, email, err := validateContact(in.Name, in.Email)
	if err != nil {
		return nil, err
	}
	existing, err := s.patients.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("Patient with email %s already exists", email)
	}

	p := &Patient{Name: name, Email: email, Phone: strings.TrimSpace(in.Phone), IsActive: true}
	if err := s.patients.Create(ctx, p); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("Patient with email %s already exists", email)
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, caller access.Caller, id uuid.UUID) (*Patient, error) {
	if access.Authorize(caller, access.OpReadPatient, access.Resource{PatientID: id}) == access.Deny {
		return nil, apperr.AccessDenied("not allowed to view this patient")
	}
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.NotFound("Patient not found")
	}
	return p, nil
}

func (s *Service) ListPatients(ctx context.Context, caller access.Caller, limit, offset int) ([]*Patient, int, error) {
	if !caller.Role.IsStaff() {
		return nil, 0, apperr.AccessDenied("not allowed to list patients")
	}
	return s.patients.List(ctx, limit, offset)
}

// PatientPatch is a partial patient update; nil fields are left unchanged.
type PatientPatch struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	IsActive *bool   `json:"is_active"`
}

// UpdatePatient changes a patient record. Patients may edit their own
// contact details; only staff who register patients can change is_active.
func (s *Service) UpdatePatient(ctx context.Context, caller access.Caller, id uuid.UUID, p PatientPatch) (*Patient, error) {
	registrar := access.Authorize(caller, access.OpRegisterPatient, access.Resource{}) == access.Allow
	self := caller.Role == access.RolePatient && caller.ID == id
	if !registrar && !self {
		return nil, apperr.AccessDenied("not allowed to update this patient")
	}
	if p.IsActive != nil && !registrar {
		return nil, apperr.AccessDenied("not allowed to change whether this patient is active")
	}

	cur, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, apperr.NotFound("Patient not found")
	}

	next := *cur
	if p.Name != nil {
		next.Name = *p.Name
	}
	if p.Email != nil {
		next.Email = *p.Email
	}
	name, email, err := validateContact(next.Name, next.Email)
	if err != nil {
		return nil, err
	}
	next.Name, next.Email = name, email
	if email != cur.Email {
		existing, err := s.patients.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != id {
			return nil, apperr.Conflict("Patient with email %s already exists", email)
		}
	}
	if p.Phone != nil {
		next.Phone = strings.TrimSpace(*p.Phone)
	}
	if p.IsActive != nil {
		next.IsActive = *p.IsActive
	}

	if next == *cur {
		return cur, nil
	}
	if err := s.patients.Update(ctx, &next); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("Patient with email %s already exists", email)
		}
		return nil, err
	}
	return &next, nil
}

// -- Branch --

type CreateBranchInput struct {
	BranchCode  string `json:"branch_code"`
	Address     string `json:"address"`
	City        string `json:"city"`
	State       string `json:"state"`
	ZipCode     string `json:"zip_code"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

func (s *Service) CreateBranch(ctx context.Context, caller access.Caller, in CreateBranchInput) (*Branch, error) {
	if access.Authorize(caller, access.OpManageDirectory, access.Resource{}) == access.Deny {
		return nil, apperr.AccessDenied("only administrators can create branches")
	}
	code := strings.TrimSpace(in.BranchCode)
	if code == "" {
		return nil, apperr.Validation("branch_code is required")
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return nil, apperr.Validation("email is not a valid address")
		}
	}

	existing, err := s.branches.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("Branch code already exists")
	}

	b := &Branch{
		BranchCode:  code,
		Address:     in.Address,
		City:        in.City,
		State:       in.State,
		ZipCode:     in.ZipCode,
		Email:       in.Email,
		PhoneNumber: in.PhoneNumber,
		IsActive:    true,
		StartedAt:   s.now(),
	}
	if err := s.branches.Create(ctx, b); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("Branch code already exists")
		}
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBranch(ctx context.Context, id uuid.UUID) (*Branch, error) {
	b, err := s.branches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperr.NotFound("Branch not found")
	}
	return b, nil
}

func (s *Service) ListBranches(ctx context.Context, active *bool, limit, offset int) ([]*Branch, int, error) {
	return s.branches.List(ctx, active, limit, offset)
}

// BranchStaff lists the staff assigned to a branch. Receptionists may only
// look at branches they are mapped to.
func (s *Service) BranchStaff(ctx context.Context, caller access.Caller, branchID uuid.UUID) ([]*Mapping, error) {
	if !caller.Role.IsStaff() {
		return nil, apperr.AccessDenied("not allowed to view branch staff")
	}
	if caller.Can(access.CapBranchAppointments) && !caller.MappedTo(branchID) {
		return nil, apperr.AccessDenied("not assigned to this branch")
	}
	return s.mappings.ListByBranch(ctx, branchID)
}

func validateContact(name, email string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", apperr.Validation("name is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", "", apperr.Validation("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", "", apperr.Validation("email is not a valid address")
	}
	return name, email, nil
}
