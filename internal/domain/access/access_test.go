package access

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carebook/scheduler/internal/platform/apperr"
	"github.com/carebook/scheduler/internal/platform/auth"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestParseRole(t *testing.T) {
	for _, s := range []string{"admin", "customer_care", "receptionist", "doctor", "patient", " Doctor "} {
		if _, err := ParseRole(s); err != nil {
			t.Errorf("ParseRole(%q) unexpected error: %v", s, err)
		}
	}
	for _, s := range []string{"", "superuser", "nurse", "ADMIN;"} {
		if _, err := ParseRole(s); err == nil {
			t.Errorf("ParseRole(%q) expected error", s)
		}
	}
}

func TestCapabilitiesOf(t *testing.T) {
	tests := []struct {
		role Role
		has  []Capability
		not  []Capability
	}{
		{RoleAdmin, []Capability{CapFullAppointments, CapManageLifecycle, CapManageMappings, CapViewAudit}, nil},
		{RoleCustomerCare, []Capability{CapFullAppointments, CapOverrideStatus}, []Capability{CapManageLifecycle, CapManageMappings, CapViewAudit}},
		{RoleReceptionist, []Capability{CapBranchAppointments}, []Capability{CapFullAppointments, CapManageLifecycle}},
		{RoleDoctor, []Capability{CapOwnStaffAppointments}, []Capability{CapFullAppointments, CapBranchAppointments}},
		{RolePatient, []Capability{CapOwnPatientAppointments}, []Capability{CapOwnStaffAppointments, CapRegisterPatients}},
		{Role("ghost"), nil, []Capability{CapFullAppointments, CapOwnPatientAppointments}},
	}
	for _, tt := range tests {
		caps := CapabilitiesOf(tt.role)
		for _, c := range tt.has {
			if !caps.Has(c) {
				t.Errorf("%s: expected capability %d", tt.role, c)
			}
		}
		for _, c := range tt.not {
			if caps.Has(c) {
				t.Errorf("%s: unexpected capability %d", tt.role, c)
			}
		}
	}
}

func TestAuthorize_AppointmentMatrix(t *testing.T) {
	doctorA := uuid.New()
	doctorB := uuid.New()
	patient := uuid.New()
	otherPatient := uuid.New()
	b1 := uuid.New()
	b2 := uuid.New()

	appt := Resource{StaffID: doctorA, PatientID: patient, BranchID: &b1}
	apptB2 := Resource{StaffID: doctorA, PatientID: patient, BranchID: &b2}

	tests := []struct {
		name   string
		caller Caller
		op     Operation
		res    Resource
		want   Decision
	}{
		{"admin reads any", Caller{ID: uuid.New(), Role: RoleAdmin}, OpRead, appt, Allow},
		{"customer care writes any", Caller{ID: uuid.New(), Role: RoleCustomerCare}, OpWrite, apptB2, Allow},
		{"doctor reads own", Caller{ID: doctorA, Role: RoleDoctor}, OpRead, appt, Allow},
		{"doctor reads other doctor", Caller{ID: doctorB, Role: RoleDoctor}, OpRead, appt, Deny},
		{"doctor deletes other doctor", Caller{ID: doctorB, Role: RoleDoctor}, OpWrite, appt, Deny},
		{"patient reads own", Caller{ID: patient, Role: RolePatient}, OpRead, appt, Allow},
		{"patient reads other", Caller{ID: otherPatient, Role: RolePatient}, OpRead, appt, Deny},
		{"patient id used as doctor", Caller{ID: patient, Role: RoleDoctor}, OpRead, appt, Deny},
		{"receptionist mapped branch", Caller{ID: uuid.New(), Role: RoleReceptionist, Branches: []uuid.UUID{b1}}, OpWrite, appt, Allow},
		{"receptionist unmapped branch", Caller{ID: uuid.New(), Role: RoleReceptionist, Branches: []uuid.UUID{b1}}, OpRead, apptB2, Deny},
		{"receptionist no branch on appt", Caller{ID: uuid.New(), Role: RoleReceptionist, Branches: []uuid.UUID{b1}}, OpRead, Resource{StaffID: doctorA, PatientID: patient}, Deny},
		{"doctor creates for self", Caller{ID: doctorA, Role: RoleDoctor}, OpCreate, appt, Allow},
		{"doctor creates for other", Caller{ID: doctorB, Role: RoleDoctor}, OpCreate, appt, Deny},
		{"unknown role", Caller{ID: doctorA, Role: Role("root")}, OpRead, appt, Deny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Authorize(tt.caller, tt.op, tt.res); got != tt.want {
				t.Errorf("Authorize(%s, %s) = %v, want %v", tt.caller.Role, tt.op, got, tt.want)
			}
		})
	}
}

func TestAuthorize_AdministrativeOps(t *testing.T) {
	staff := uuid.New()
	ops := []Operation{OpManageLifecycle, OpManageMappings, OpViewAudit, OpManageDirectory}
	for _, op := range ops {
		if Authorize(Caller{ID: uuid.New(), Role: RoleAdmin}, op, Resource{}) != Allow {
			t.Errorf("expected admin allowed for %s", op)
		}
		for _, r := range []Role{RoleCustomerCare, RoleReceptionist, RoleDoctor, RolePatient} {
			if Authorize(Caller{ID: uuid.New(), Role: r}, op, Resource{}) != Deny {
				t.Errorf("expected %s denied for %s", r, op)
			}
		}
	}

	if Authorize(Caller{ID: staff, Role: RoleDoctor}, OpReadMappings, Resource{StaffID: staff}) != Allow {
		t.Error("expected staff to read own mappings")
	}
	if Authorize(Caller{ID: uuid.New(), Role: RoleDoctor}, OpReadMappings, Resource{StaffID: staff}) != Deny {
		t.Error("expected staff denied reading another's mappings")
	}
	if Authorize(Caller{ID: staff, Role: RolePatient}, OpReadMappings, Resource{StaffID: staff}) != Deny {
		t.Error("expected patient denied reading mappings")
	}
}

func TestAuthorize_ListBranch(t *testing.T) {
	b1, b2 := uuid.New(), uuid.New()
	recep := Caller{ID: uuid.New(), Role: RoleReceptionist, Branches: []uuid.UUID{b1}}

	if Authorize(recep, OpListBranch, Resource{BranchID: &b1}) != Allow {
		t.Error("expected mapped receptionist to list branch")
	}
	if Authorize(recep, OpListBranch, Resource{BranchID: &b2}) != Deny {
		t.Error("expected unmapped receptionist denied")
	}
	if Authorize(Caller{ID: uuid.New(), Role: RoleCustomerCare}, OpListBranch, Resource{BranchID: &b2}) != Allow {
		t.Error("expected customer care to list any branch")
	}
	if Authorize(Caller{ID: uuid.New(), Role: RoleDoctor}, OpListBranch, Resource{BranchID: &b1}) != Deny {
		t.Error("expected doctor denied branch listing")
	}
}

func TestAuthorize_ListSubjects(t *testing.T) {
	me, other := uuid.New(), uuid.New()
	tests := []struct {
		role  Role
		op    Operation
		res   Resource
		allow bool
	}{
		{RoleAdmin, OpListStaff, Resource{StaffID: other}, true},
		{RoleReceptionist, OpListStaff, Resource{StaffID: other}, true},
		{RoleDoctor, OpListStaff, Resource{StaffID: me}, true},
		{RoleDoctor, OpListStaff, Resource{StaffID: other}, false},
		{RolePatient, OpListStaff, Resource{StaffID: other}, false},
		{RoleCustomerCare, OpListPatient, Resource{PatientID: other}, true},
		{RoleDoctor, OpListPatient, Resource{PatientID: other}, true},
		{RolePatient, OpListPatient, Resource{PatientID: me}, true},
		{RolePatient, OpListPatient, Resource{PatientID: other}, false},
	}
	for _, tt := range tests {
		got := Authorize(Caller{ID: me, Role: tt.role}, tt.op, tt.res) == Allow
		if got != tt.allow {
			t.Errorf("%s %s %+v: expected allow=%v", tt.role, tt.op, tt.res, tt.allow)
		}
	}
}

func TestAuthorize_OverrideStatus(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleCustomerCare} {
		if Authorize(Caller{ID: uuid.New(), Role: r}, OpOverrideStatus, Resource{}) != Allow {
			t.Errorf("expected %s allowed to override status", r)
		}
	}
	for _, r := range []Role{RoleReceptionist, RoleDoctor, RolePatient} {
		if Authorize(Caller{ID: uuid.New(), Role: r}, OpOverrideStatus, Resource{}) != Deny {
			t.Errorf("expected %s denied status override", r)
		}
	}
}

func TestScopeList(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	b1, b2 := uuid.New(), uuid.New()

	t.Run("doctor pinned to self", func(t *testing.T) {
		scope, d := ScopeList(Caller{ID: me, Role: RoleDoctor}, ListScope{})
		if d != Allow || scope.StaffID == nil || *scope.StaffID != me {
			t.Fatalf("expected scope pinned to caller, got %+v %v", scope, d)
		}
	})
	t.Run("doctor asking for another doctor", func(t *testing.T) {
		if _, d := ScopeList(Caller{ID: me, Role: RoleDoctor}, ListScope{StaffID: &other}); d != Deny {
			t.Error("expected deny")
		}
	})
	t.Run("patient pinned to self", func(t *testing.T) {
		scope, d := ScopeList(Caller{ID: me, Role: RolePatient}, ListScope{StaffID: &other})
		if d != Allow || scope.PatientID == nil || *scope.PatientID != me {
			t.Fatalf("expected patient scope, got %+v %v", scope, d)
		}
	})
	t.Run("patient asking for another patient", func(t *testing.T) {
		if _, d := ScopeList(Caller{ID: me, Role: RolePatient}, ListScope{PatientID: &other}); d != Deny {
			t.Error("expected deny")
		}
	})
	t.Run("receptionist filtering by staff", func(t *testing.T) {
		scope, d := ScopeList(Caller{ID: me, Role: RoleReceptionist, Branches: []uuid.UUID{b1}}, ListScope{StaffID: &other})
		if d != Allow || *scope.StaffID != other || len(scope.Branches) != 1 {
			t.Fatalf("expected staff filter within mapped branches, got %+v %v", scope, d)
		}
	})
	t.Run("receptionist unmapped branch", func(t *testing.T) {
		if _, d := ScopeList(Caller{ID: me, Role: RoleReceptionist, Branches: []uuid.UUID{b1}}, ListScope{BranchID: &b2}); d != Deny {
			t.Error("expected deny for unmapped branch")
		}
	})
	t.Run("receptionist without branch filter", func(t *testing.T) {
		scope, d := ScopeList(Caller{ID: me, Role: RoleReceptionist, Branches: []uuid.UUID{b1}}, ListScope{})
		if d != Allow || len(scope.Branches) != 1 || scope.Branches[0] != b1 {
			t.Fatalf("expected restriction to mapped branches, got %+v", scope)
		}
	})
	t.Run("receptionist with no mappings", func(t *testing.T) {
		scope, d := ScopeList(Caller{ID: me, Role: RoleReceptionist}, ListScope{})
		if d != Allow || scope.Branches == nil || len(scope.Branches) != 0 {
			t.Fatalf("expected empty non-nil branch restriction, got %+v", scope)
		}
	})
	t.Run("full access unchanged", func(t *testing.T) {
		scope, d := ScopeList(Caller{ID: me, Role: RoleAdmin}, ListScope{BranchID: &b2})
		if d != Allow || scope.BranchID == nil || *scope.BranchID != b2 || scope.Branches != nil {
			t.Fatalf("expected unchanged scope, got %+v", scope)
		}
	})
}

type fakeLookup struct {
	branches map[uuid.UUID][]uuid.UUID
	calls    int
	err      error
}

func (f *fakeLookup) BranchIDsForStaff(ctx context.Context, staffID uuid.UUID) ([]uuid.UUID, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.branches[staffID], nil
}

func TestResolver_Resolve(t *testing.T) {
	recep := uuid.New()
	b1 := uuid.New()
	lookup := &fakeLookup{branches: map[uuid.UUID][]uuid.UUID{recep: {b1}}}
	r := NewResolver(lookup)

	caller, err := r.Resolve(context.Background(), recep.String(), "receptionist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !caller.MappedTo(b1) {
		t.Error("expected receptionist to be mapped to b1")
	}

	if _, err := r.Resolve(context.Background(), recep.String(), "doctor"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lookup.calls != 1 {
		t.Errorf("expected branch lookup only for receptionist, got %d calls", lookup.calls)
	}

	// Resolution is not cached: a second call re-reads mappings.
	lookup.branches[recep] = nil
	caller, _ = r.Resolve(context.Background(), recep.String(), "receptionist")
	if caller.MappedTo(b1) {
		t.Error("expected fresh mappings on every resolution")
	}
}

func TestResolver_Rejects(t *testing.T) {
	r := NewResolver(&fakeLookup{})
	if _, err := r.Resolve(context.Background(), uuid.NewString(), "root"); !errors.Is(err, apperr.ErrAccessDenied) {
		t.Errorf("expected AccessDenied for unknown role, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "not-a-uuid", "doctor"); !errors.Is(err, apperr.ErrAccessDenied) {
		t.Errorf("expected AccessDenied for bad id, got %v", err)
	}

	failing := NewResolver(&fakeLookup{err: errors.New("db down")})
	if _, err := failing.Resolve(context.Background(), uuid.NewString(), "receptionist"); err == nil || errors.Is(err, apperr.ErrAccessDenied) {
		t.Errorf("expected store error to propagate, got %v", err)
	}
}

func TestCallerMiddleware_AndRequireCapability(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/activity", nil)
	req = req.WithContext(auth.WithCaller(req.Context(), uuid.NewString(), "customer_care"))
	c := e.NewContext(req, httptest.NewRecorder())

	h := CallerMiddleware(NewResolver(&fakeLookup{}))(RequireCapability(CapViewAudit)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}))
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	if caller, ok := CallerFrom(c); !ok || caller.Role != RoleCustomerCare {
		t.Errorf("expected resolved caller on context, got %+v", caller)
	}
}

func TestCallerMiddleware_MissingIdentity(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := CallerMiddleware(NewResolver(&fakeLookup{}))(func(c echo.Context) error { return nil })(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
