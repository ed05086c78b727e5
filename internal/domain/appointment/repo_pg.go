package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/scheduler/internal/platform/db"
)

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &appointmentRepoPG{pool: pool} }

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const apptCols = `id, title, description, category, staff_id, patient_id, branch_id,
	start_time, end_time, status, created_at, updated_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.Title, &a.Description, &a.Category, &a.StaffID, &a.PatientID, &a.BranchID,
		&a.StartTime, &a.EndTime, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, title, description, category, staff_id, patient_id, branch_id,
			start_time, end_time, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.Title, a.Description, a.Category, a.StaffID, a.PatientID, a.BranchID,
		a.StartTime, a.EndTime, a.Status).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if db.IsNotFound(err) {
		return nil, nil
	}
	return a, err
}

func (r *appointmentRepoPG) GetMany(ctx context.Context, ids []uuid.UUID) ([]*Appointment, error) {
	return r.query(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = ANY($1)`, ids)
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET title=$2, description=$3, category=$4, branch_id=$5,
			start_time=$6, end_time=$7, status=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Title, a.Description, a.Category, a.BranchID,
		a.StartTime, a.EndTime, a.Status).Scan(&a.UpdatedAt)
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	return err
}

func (r *appointmentRepoPG) DeleteMany(ctx context.Context, ids []uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	add := func(clause string, v interface{}) {
		where += fmt.Sprintf(clause, idx)
		args = append(args, v)
		idx++
	}
	if f.StaffID != nil {
		add(` AND staff_id = $%d`, *f.StaffID)
	}
	if f.PatientID != nil {
		add(` AND patient_id = $%d`, *f.PatientID)
	}
	if f.BranchID != nil {
		add(` AND branch_id = $%d`, *f.BranchID)
	}
	if f.Branches != nil {
		add(` AND branch_id = ANY($%d)`, f.Branches)
	}
	if f.Status != nil {
		add(` AND status = $%d`, *f.Status)
	}
	if f.Category != "" {
		add(` AND category = $%d`, f.Category)
	}
	if f.From != nil {
		add(` AND start_time >= $%d`, *f.From)
	}
	if f.To != nil {
		add(` AND start_time < $%d`, *f.To)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY start_time ASC, id ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	items, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) FindOverlapping(ctx context.Context, subject Subject, subjectID uuid.UUID, iv Interval) ([]*Appointment, error) {
	switch subject {
	case SubjectStaff, SubjectPatient:
	default:
		return nil, fmt.Errorf("unknown subject %q", subject)
	}
	return r.query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE `+string(subject)+` = $1 AND status = 'scheduled' AND start_time < $3 AND end_time > $2
		ORDER BY start_time ASC, id ASC`,
		subjectID, iv.Start, iv.End)
}

func (r *appointmentRepoPG) CancelFutureForStaff(ctx context.Context, staffID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE appointment SET status = 'cancelled', updated_at = NOW()
		WHERE staff_id = $1 AND status = 'scheduled' AND start_time > $2
		RETURNING id`, staffID, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *appointmentRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
