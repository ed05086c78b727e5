package lifecycle

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/carebook/scheduler/internal/platform/apperr"
)

// Cascade steps, reported on CascadeFailure.
const (
	StepDeactivate         = "deactivating record"
	StepRemoveMappings     = "removing branch mappings"
	StepCancelAppointments = "cancelling future appointments"
	StepCommit             = "committing"
)

// CascadeFailure reports a deactivation that stopped part way. When
// RolledBack is set nothing was saved and the counts are zero. Otherwise the
// counts describe work that was kept, and Reconcile finishes the cascade.
type CascadeFailure struct {
	Entity                string
	EntityID              uuid.UUID
	Step                  string
	RolledBack            bool
	MappingsRemoved       int
	AppointmentsCancelled int
	Err                   error
}

// rollback marks the failure as fully undone.
func (e *CascadeFailure) rollback() {
	e.RolledBack = true
	e.MappingsRemoved = 0
	e.AppointmentsCancelled = 0
}

func (e *CascadeFailure) Error() string {
	if e.RolledBack {
		return fmt.Sprintf("deactivate %s %s: failed while %s (rolled back): %v",
			e.Entity, e.EntityID, e.Step, e.Err)
	}
	return fmt.Sprintf("deactivate %s %s: failed while %s (mappings removed: %d, appointments cancelled: %d): %v",
		e.Entity, e.EntityID, e.Step, e.MappingsRemoved, e.AppointmentsCancelled, e.Err)
}

func (e *CascadeFailure) Is(target error) bool { return target == apperr.ErrCascadeFailure }

func (e *CascadeFailure) Unwrap() error { return e.Err }

// CascadeMessage is the caller-facing summary.
func (e *CascadeFailure) CascadeMessage() string {
	if e.RolledBack {
		return fmt.Sprintf("Deactivation of %s failed while %s; no changes were saved, retry", e.Entity, e.Step)
	}
	return fmt.Sprintf("Deactivation of %s failed while %s; retry or run reconcile", e.Entity, e.Step)
}
