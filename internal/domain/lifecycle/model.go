package lifecycle

import (
	"github.com/google/uuid"

	"github.com/carebook/scheduler/internal/domain/directory"
)

// StaffDeactivation is the outcome of DeactivateStaff.
type StaffDeactivation struct {
	Staff                 *directory.Staff `json:"staff"`
	MappingsRemoved       int              `json:"mappings_removed"`
	AppointmentsCancelled int              `json:"appointments_cancelled"`
}

// BranchDeactivation is the outcome of DeactivateBranch.
type BranchDeactivation struct {
	Branch          *directory.Branch `json:"branch"`
	MappingsRemoved int               `json:"mappings_removed"`
}

type AssignInput struct {
	StaffID  uuid.UUID `json:"staff_id"`
	BranchID uuid.UUID `json:"branch_id"`
}

// StaffPatch is a partial staff update; nil fields are left unchanged.
type StaffPatch struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

// BranchPatch is a partial branch update; nil fields are left unchanged.
type BranchPatch struct {
	BranchCode  *string `json:"branch_code"`
	Address     *string `json:"address"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	ZipCode     *string `json:"zip_code"`
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phone_number"`
	IsActive    *bool   `json:"is_active"`
}

// ReconcileReport summarizes a Reconcile run.
type ReconcileReport struct {
	StaffChecked          int `json:"staff_checked"`
	BranchesChecked       int `json:"branches_checked"`
	MappingsRemoved       int `json:"mappings_removed"`
	AppointmentsCancelled int `json:"appointments_cancelled"`
}
