// Package activity records the append-only audit trail of lifecycle and
// booking changes.
package activity

import (
	"time"

	"github.com/google/uuid"
)

type EntityType string

const (
	EntityStaff       EntityType = "HOSPITAL_STAFF"
	EntityBranch      EntityType = "HOSPITAL_BRANCH"
	EntityMapping     EntityType = "STAFF_BRANCH_MAPPING"
	EntityAppointment EntityType = "APPOINTMENT"
)

type Action string

const (
	ActionDeactivated    Action = "DEACTIVATED"
	ActionReactivated    Action = "REACTIVATED"
	ActionMappingCreated Action = "MAPPING_CREATED"
	ActionMappingRemoved Action = "MAPPING_REMOVED"
	ActionCreated        Action = "CREATED"
	ActionUpdated        Action = "UPDATED"
	ActionDeleted        Action = "DELETED"
	ActionCancelled      Action = "CANCELLED"
	ActionReconciled     Action = "RECONCILED"
)

var validEntityTypes = map[EntityType]bool{
	EntityStaff: true, EntityBranch: true, EntityMapping: true, EntityAppointment: true,
}

// ParseEntityType accepts the upper-case entity names stored on events.
func ParseEntityType(s string) (EntityType, bool) {
	t := EntityType(s)
	return t, validEntityTypes[t]
}

// Event is one immutable audit record.
type Event struct {
	ID              uuid.UUID              `db:"id" json:"id"`
	EntityType      EntityType             `db:"entity_type" json:"entity_type"`
	EntityID        string                 `db:"entity_id" json:"entity_id"`
	ActionType      Action                 `db:"action_type" json:"action_type"`
	Description     string                 `db:"description" json:"description"`
	PerformedBy     string                 `db:"performed_by" json:"performed_by"`
	PerformedByName string                 `db:"performed_by_name" json:"performed_by_name"`
	Timestamp       time.Time              `db:"timestamp" json:"timestamp"`
	State           map[string]interface{} `db:"state" json:"state,omitempty"`
	RelatedEntities map[string]string      `db:"related_entities" json:"related_entities,omitempty"`
	ImpactSummary   string                 `db:"impact_summary" json:"impact_summary,omitempty"`
}

// Filter narrows event listings. Empty fields are ignored.
type Filter struct {
	EntityType EntityType
	EntityID   string
}
