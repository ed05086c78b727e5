package access

import (
	"github.com/google/uuid"
)

// ListScope narrows an appointment listing. Branches, when non-nil, limits
// rows to those branches.
type ListScope struct {
	StaffID   *uuid.UUID
	PatientID *uuid.UUID
	BranchID  *uuid.UUID
	Branches  []uuid.UUID
}

// ScopeList returns the scope a caller is actually allowed to list, or Deny
// when the requested scope names a subject or branch outside the caller's
// reach. Callers with own-appointment access are pinned to themselves.
// Every decision comes from Authorize.
func ScopeList(caller Caller, req ListScope) (ListScope, Decision) {
	caps := CapabilitiesOf(caller.Role)
	out := req

	switch {
	case caps.Has(CapFullAppointments):
		return out, Allow

	case caps.Has(CapBranchAppointments):
		if !listable(caller, req) {
			return ListScope{}, Deny
		}
		if req.BranchID != nil {
			if Authorize(caller, OpListBranch, Resource{BranchID: req.BranchID}) == Deny {
				return ListScope{}, Deny
			}
			return out, Allow
		}
		out.Branches = append([]uuid.UUID{}, caller.Branches...)
		return out, Allow

	case caps.Has(CapOwnStaffAppointments):
		id := caller.ID
		if req.StaffID != nil {
			id = *req.StaffID
		}
		if Authorize(caller, OpListStaff, Resource{StaffID: id}) == Deny {
			return ListScope{}, Deny
		}
		out.StaffID = &id
		return out, Allow

	case caps.Has(CapOwnPatientAppointments):
		id := caller.ID
		if req.PatientID != nil {
			id = *req.PatientID
		}
		if Authorize(caller, OpListPatient, Resource{PatientID: id}) == Deny {
			return ListScope{}, Deny
		}
		out.PatientID = &id
		return out, Allow
	}
	return ListScope{}, Deny
}

// listable checks the staff and patient filters of a request.
func listable(caller Caller, req ListScope) bool {
	if req.StaffID != nil && Authorize(caller, OpListStaff, Resource{StaffID: *req.StaffID}) == Deny {
		return false
	}
	if req.PatientID != nil && Authorize(caller, OpListPatient, Resource{PatientID: *req.PatientID}) == Deny {
		return false
	}
	return true
}
