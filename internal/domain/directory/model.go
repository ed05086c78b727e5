package directory

import (
	"time"

	"github.com/carebook/scheduler/internal/domain/access"
	"github.com/google/uuid"
)

// DisplayTimeLayout formats human-readable activation stamps such as
// "March 04 2025 - 9:30 AM". These strings are never compared.
const DisplayTimeLayout = "January 02 2006 - 3:04 PM"

// Staff maps to the staff table. Staff rows are deactivated, never deleted.
type Staff struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	Email     string      `db:"email" json:"email"`
	Role      access.Role `db:"role" json:"role"`
	IsActive  bool        `db:"is_active" json:"is_active"`
	StartDate string      `db:"start_date" json:"start_date"`
	EndDate   string      `db:"end_date" json:"end_date,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// DisplayName renders the staff member for audit descriptions.
func (s *Staff) DisplayName() string {
	if s.Role == access.RoleDoctor {
		return "Dr. " + s.Name
	}
	return s.Name + " (" + string(s.Role) + ")"
}

// Patient maps to the patient table.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Branch maps to the branch table. ClosedAt is empty while the branch is open.
type Branch struct {
	ID          uuid.UUID `db:"id" json:"id"`
	BranchCode  string    `db:"branch_code" json:"branch_code"`
	Address     string    `db:"address" json:"address"`
	City        string    `db:"city" json:"city"`
	State       string    `db:"state" json:"state"`
	ZipCode     string    `db:"zip_code" json:"zip_code"`
	Email       string    `db:"email" json:"email"`
	PhoneNumber string    `db:"phone_number" json:"phone_number"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	StartedAt   time.Time `db:"started_at" json:"started_at"`
	ClosedAt    string    `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Mapping assigns a staff member to a branch. StaffName and BranchCode are
// display copies taken from the authoritative rows when the mapping is made.
type Mapping struct {
	ID         uuid.UUID `db:"id" json:"id"`
	StaffID    uuid.UUID `db:"staff_id" json:"staff_id"`
	BranchID   uuid.UUID `db:"branch_id" json:"branch_id"`
	StaffName  string    `db:"staff_name" json:"staff_name"`
	BranchCode string    `db:"branch_code" json:"branch_code"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// StaffFilter narrows staff listings. Nil fields are ignored.
type StaffFilter struct {
	Role   *access.Role
	Active *bool
}
