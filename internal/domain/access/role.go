// Package access defines the closed set of caller roles and the single
// capability table every authorization decision is derived from.
package access

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleCustomerCare Role = "customer_care"
	RoleReceptionist Role = "receptionist"
	RoleDoctor       Role = "doctor"
	RolePatient      Role = "patient"
)

// StaffRoles are the roles a Staff record may hold.
var StaffRoles = []Role{RoleAdmin, RoleDoctor, RoleReceptionist, RoleCustomerCare}

// ParseRole rejects anything outside the closed role set.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleCustomerCare, RoleReceptionist, RoleDoctor, RolePatient:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// IsStaff reports whether r is held by staff rather than patients.
func (r Role) IsStaff() bool {
	return r != RolePatient && r != ""
}

type Capability uint16

const (
	// CapFullAppointments grants read/write on every appointment.
	CapFullAppointments Capability = 1 << iota
	// CapBranchAppointments grants access to appointments at mapped branches.
	CapBranchAppointments
	// CapOwnStaffAppointments grants access where the caller is the staff party.
	CapOwnStaffAppointments
	// CapOwnPatientAppointments grants access where the caller is the patient party.
	CapOwnPatientAppointments
	CapOverrideStatus
	CapManageLifecycle
	CapManageMappings
	CapViewAudit
	CapManageDirectory
	CapRegisterPatients
)

// CapabilitiesOf is the access matrix.
func CapabilitiesOf(r Role) Capability {
	switch r {
	case RoleAdmin:
		return CapFullAppointments | CapOverrideStatus | CapManageLifecycle |
			CapManageMappings | CapViewAudit | CapManageDirectory | CapRegisterPatients
	case RoleCustomerCare:
		return CapFullAppointments | CapOverrideStatus | CapRegisterPatients
	case RoleReceptionist:
		return CapBranchAppointments | CapRegisterPatients
	case RoleDoctor:
		return CapOwnStaffAppointments
	case RolePatient:
		return CapOwnPatientAppointments
	default:
		return 0
	}
}

func (c Capability) Has(want Capability) bool {
	return want != 0 && c&want == want
}

// Caller is a resolved request identity. Branches is populated only for
// branch-scoped roles and reflects the mappings at resolution time.
type Caller struct {
	ID       uuid.UUID
	Role     Role
	Name     string
	Branches []uuid.UUID
}

func (c Caller) Can(want Capability) bool {
	return CapabilitiesOf(c.Role).Has(want)
}

// MappedTo reports whether the caller is currently assigned to branch.
func (c Caller) MappedTo(branch uuid.UUID) bool {
	for _, b := range c.Branches {
		if b == branch {
			return true
		}
	}
	return false
}

// Actor is the identity string recorded on audit events.
func (c Caller) Actor() string {
	return c.ID.String()
}
