package access

import (
	"github.com/google/uuid"
)

type Operation int

const (
	OpRead Operation = iota
	OpWrite
	OpCreate
	OpListBranch
	OpListStaff
	OpListPatient
	OpReadPatient
	OpRegisterPatient
	OpManageDirectory
	OpManageLifecycle
	OpManageMappings
	OpReadMappings
	OpViewAudit
	OpOverrideStatus
)

var opNames = map[Operation]string{
	OpRead:            "read",
	OpWrite:           "write",
	OpCreate:          "create",
	OpListBranch:      "list-branch",
	OpListStaff:       "list-staff",
	OpListPatient:     "list-patient",
	OpReadPatient:     "read-patient",
	OpRegisterPatient: "register-patient",
	OpManageDirectory: "manage-directory",
	OpManageLifecycle: "manage-lifecycle",
	OpManageMappings:  "manage-mappings",
	OpReadMappings:    "read-mappings",
	OpViewAudit:       "view-audit",
	OpOverrideStatus:  "override-status",
}

func (o Operation) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "unknown"
}

// Resource describes the owners of the thing being accessed. Zero ids mean
// "not applicable".
type Resource struct {
	StaffID   uuid.UUID
	PatientID uuid.UUID
	BranchID  *uuid.UUID
}

type Decision bool

const (
	Allow Decision = true
	Deny  Decision = false
)

// Authorize decides whether caller may perform op on res. It is pure: branch
// membership must already be resolved onto the caller.
func Authorize(caller Caller, op Operation, res Resource) Decision {
	caps := CapabilitiesOf(caller.Role)
	if caps == 0 || caller.ID == uuid.Nil && !caps.Has(CapFullAppointments) {
		return Deny
	}

	switch op {
	case OpRead, OpWrite, OpCreate:
		return appointmentAccess(caller, caps, res)

	case OpListBranch:
		if caps.Has(CapFullAppointments) {
			return Allow
		}
		return Decision(caps.Has(CapBranchAppointments) && res.BranchID != nil && caller.MappedTo(*res.BranchID))

	case OpListStaff:
		if caps.Has(CapFullAppointments) || caps.Has(CapBranchAppointments) {
			return Allow
		}
		return Decision(caps.Has(CapOwnStaffAppointments) && res.StaffID == caller.ID)

	case OpListPatient:
		if caps.Has(CapFullAppointments) || caps.Has(CapBranchAppointments) || caps.Has(CapOwnStaffAppointments) {
			return Allow
		}
		return Decision(caps.Has(CapOwnPatientAppointments) && res.PatientID == caller.ID)

	case OpReadPatient:
		if caller.Role.IsStaff() {
			return Allow
		}
		return Decision(res.PatientID == caller.ID)

	case OpRegisterPatient:
		return Decision(caps.Has(CapRegisterPatients))

	case OpManageDirectory:
		return Decision(caps.Has(CapManageDirectory))

	case OpManageLifecycle:
		return Decision(caps.Has(CapManageLifecycle))

	case OpManageMappings:
		return Decision(caps.Has(CapManageMappings))

	case OpReadMappings:
		if caps.Has(CapManageMappings) {
			return Allow
		}
		return Decision(caller.Role.IsStaff() && res.StaffID == caller.ID)

	case OpViewAudit:
		return Decision(caps.Has(CapViewAudit))

	case OpOverrideStatus:
		return Decision(caps.Has(CapOverrideStatus))
	}
	return Deny
}

// appointmentAccess: full access, either party of the appointment, or a
// branch-scoped caller mapped to the appointment's branch.
func appointmentAccess(caller Caller, caps Capability, res Resource) Decision {
	if caps.Has(CapFullAppointments) {
		return Allow
	}
	if caps.Has(CapOwnStaffAppointments) && res.StaffID != uuid.Nil && res.StaffID == caller.ID {
		return Allow
	}
	if caps.Has(CapOwnPatientAppointments) && res.PatientID != uuid.Nil && res.PatientID == caller.ID {
		return Allow
	}
	if caps.Has(CapBranchAppointments) && res.BranchID != nil && caller.MappedTo(*res.BranchID) {
		return Allow
	}
	return Deny
}
