package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/scheduler/internal/platform/db"
)

// =========== Staff Repository ===========

type staffRepoPG struct{ pool *pgxpool.Pool }

func NewStaffRepoPG(pool *pgxpool.Pool) StaffRepository { return &staffRepoPG{pool: pool} }

func (r *staffRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const staffCols = `id, name, email, role, is_active, start_date, end_date, created_at, updated_at`

func (r *staffRepoPG) scanStaff(row pgx.Row) (*Staff, error) {
	var s Staff
	err := row.Scan(&s.ID, &s.Name, &s.Email, &s.Role, &s.IsActive,
		&s.StartDate, &s.EndDate, &s.CreatedAt, &s.UpdatedAt)
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *staffRepoPG) Create(ctx context.Context, s *Staff) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO staff (id, name, email, role, is_active, start_date, end_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		s.ID, s.Name, s.Email, s.Role, s.IsActive, s.StartDate, s.EndDate).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *staffRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return r.scanStaff(r.conn(ctx).QueryRow(ctx, `SELECT `+staffCols+` FROM staff WHERE id = $1`, id))
}

func (r *staffRepoPG) GetByEmail(ctx context.Context, email string) (*Staff, error) {
	return r.scanStaff(r.conn(ctx).QueryRow(ctx, `SELECT `+staffCols+` FROM staff WHERE email = $1`, email))
}

func (r *staffRepoPG) Update(ctx context.Context, s *Staff) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE staff SET name=$2, email=$3, role=$4, is_active=$5, start_date=$6, end_date=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Name, s.Email, s.Role, s.IsActive, s.StartDate, s.EndDate).Scan(&s.UpdatedAt)
}

func (r *staffRepoPG) List(ctx context.Context, f StaffFilter, limit, offset int) ([]*Staff, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Role != nil {
		where += fmt.Sprintf(` AND role = $%d`, idx)
		args = append(args, *f.Role)
		idx++
	}
	if f.Active != nil {
		where += fmt.Sprintf(` AND is_active = $%d`, idx)
		args = append(args, *f.Active)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM staff`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + staffCols + ` FROM staff` + where +
		fmt.Sprintf(` ORDER BY name ASC, id ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Staff
	for rows.Next() {
		s, err := r.scanStaff(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const patientCols = `id, name, email, phone, is_active, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, name, email, phone, is_active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Email, p.Phone, p.IsActive).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByEmail(ctx context.Context, email string) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE email = $1`, email))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET name=$2, email=$3, phone=$4, is_active=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Email, p.Phone, p.IsActive).Scan(&p.UpdatedAt)
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY name ASC, id ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Branch Repository ===========

type branchRepoPG struct{ pool *pgxpool.Pool }

func NewBranchRepoPG(pool *pgxpool.Pool) BranchRepository { return &branchRepoPG{pool: pool} }

func (r *branchRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const branchCols = `id, branch_code, address, city, state, zip_code, email, phone_number,
	is_active, started_at, closed_at, created_at, updated_at`

func (r *branchRepoPG) scanBranch(row pgx.Row) (*Branch, error) {
	var b Branch
	err := row.Scan(&b.ID, &b.BranchCode, &b.Address, &b.City, &b.State, &b.ZipCode,
		&b.Email, &b.PhoneNumber, &b.IsActive, &b.StartedAt, &b.ClosedAt, &b.CreatedAt, &b.UpdatedAt)
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *branchRepoPG) Create(ctx context.Context, b *Branch) error {
	b.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO branch (id, branch_code, address, city, state, zip_code, email, phone_number,
			is_active, started_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		b.ID, b.BranchCode, b.Address, b.City, b.State, b.ZipCode, b.Email, b.PhoneNumber,
		b.IsActive, b.StartedAt, b.ClosedAt).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *branchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Branch, error) {
	return r.scanBranch(r.conn(ctx).QueryRow(ctx, `SELECT `+branchCols+` FROM branch WHERE id = $1`, id))
}

func (r *branchRepoPG) GetByCode(ctx context.Context, code string) (*Branch, error) {
	return r.scanBranch(r.conn(ctx).QueryRow(ctx, `SELECT `+branchCols+` FROM branch WHERE branch_code = $1`, code))
}

func (r *branchRepoPG) Update(ctx context.Context, b *Branch) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE branch SET branch_code=$2, address=$3, city=$4, state=$5, zip_code=$6, email=$7,
			phone_number=$8, is_active=$9, started_at=$10, closed_at=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.BranchCode, b.Address, b.City, b.State, b.ZipCode, b.Email,
		b.PhoneNumber, b.IsActive, b.StartedAt, b.ClosedAt).Scan(&b.UpdatedAt)
}

func (r *branchRepoPG) List(ctx context.Context, active *bool, limit, offset int) ([]*Branch, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if active != nil {
		where += fmt.Sprintf(` AND is_active = $%d`, idx)
		args = append(args, *active)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM branch`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + branchCols + ` FROM branch` + where +
		fmt.Sprintf(` ORDER BY branch_code ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Branch
	for rows.Next() {
		b, err := r.scanBranch(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

// =========== Mapping Repository ===========

type mappingRepoPG struct{ pool *pgxpool.Pool }

func NewMappingRepoPG(pool *pgxpool.Pool) MappingRepository { return &mappingRepoPG{pool: pool} }

func (r *mappingRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const mappingCols = `id, staff_id, branch_id, staff_name, branch_code, created_at`

func (r *mappingRepoPG) scanMapping(row pgx.Row) (*Mapping, error) {
	var m Mapping
	err := row.Scan(&m.ID, &m.StaffID, &m.BranchID, &m.StaffName, &m.BranchCode, &m.CreatedAt)
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *mappingRepoPG) Create(ctx context.Context, m *Mapping) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO staff_branch_mapping (id, staff_id, branch_id, staff_name, branch_code)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		m.ID, m.StaffID, m.BranchID, m.StaffName, m.BranchCode).Scan(&m.CreatedAt)
}

func (r *mappingRepoPG) Get(ctx context.Context, staffID, branchID uuid.UUID) (*Mapping, error) {
	return r.scanMapping(r.conn(ctx).QueryRow(ctx,
		`SELECT `+mappingCols+` FROM staff_branch_mapping WHERE staff_id = $1 AND branch_id = $2`, staffID, branchID))
}

func (r *mappingRepoPG) Delete(ctx context.Context, staffID, branchID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM staff_branch_mapping WHERE staff_id = $1 AND branch_id = $2`, staffID, branchID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *mappingRepoPG) DeleteByStaff(ctx context.Context, staffID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM staff_branch_mapping WHERE staff_id = $1`, staffID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *mappingRepoPG) DeleteByBranch(ctx context.Context, branchID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM staff_branch_mapping WHERE branch_id = $1`, branchID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *mappingRepoPG) ListByStaff(ctx context.Context, staffID uuid.UUID) ([]*Mapping, error) {
	return r.query(ctx, `SELECT `+mappingCols+` FROM staff_branch_mapping WHERE staff_id = $1 ORDER BY branch_code`, staffID)
}

func (r *mappingRepoPG) ListByBranch(ctx context.Context, branchID uuid.UUID) ([]*Mapping, error) {
	return r.query(ctx, `SELECT `+mappingCols+` FROM staff_branch_mapping WHERE branch_id = $1 ORDER BY staff_name`, branchID)
}

func (r *mappingRepoPG) List(ctx context.Context, limit, offset int) ([]*Mapping, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM staff_branch_mapping`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.query(ctx, `SELECT `+mappingCols+` FROM staff_branch_mapping
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *mappingRepoPG) BranchIDsForStaff(ctx context.Context, staffID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT branch_id FROM staff_branch_mapping WHERE staff_id = $1`, staffID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *mappingRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Mapping, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Mapping
	for rows.Next() {
		m, err := r.scanMapping(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
