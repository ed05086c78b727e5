package activity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/scheduler/internal/platform/db"
)

type Repository interface {
	Append(ctx context.Context, e *Event) error
	// List returns events newest first.
	List(ctx context.Context, f Filter, limit, offset int) ([]*Event, int, error)
}

type eventRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &eventRepoPG{pool: pool} }

func (r *eventRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const eventCols = `id, entity_type, entity_id, action_type, description, performed_by,
	performed_by_name, "timestamp", state, related_entities, impact_summary`

func (r *eventRepoPG) scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.ActionType, &e.Description, &e.PerformedBy,
		&e.PerformedByName, &e.Timestamp, &e.State, &e.RelatedEntities, &e.ImpactSummary)
	return &e, err
}

func (r *eventRepoPG) Append(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.State == nil {
		e.State = map[string]interface{}{}
	}
	if e.RelatedEntities == nil {
		e.RelatedEntities = map[string]string{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO activity_log (id, entity_type, entity_id, action_type, description, performed_by,
			performed_by_name, "timestamp", state, related_entities, impact_summary)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.EntityType, e.EntityID, e.ActionType, e.Description, e.PerformedBy,
		e.PerformedByName, e.Timestamp, e.State, e.RelatedEntities, e.ImpactSummary)
	return err
}

func (r *eventRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Event, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.EntityType != "" {
		where += fmt.Sprintf(` AND entity_type = $%d`, idx)
		args = append(args, f.EntityType)
		idx++
	}
	if f.EntityID != "" {
		where += fmt.Sprintf(` AND entity_id = $%d`, idx)
		args = append(args, f.EntityID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM activity_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + eventCols + ` FROM activity_log` + where +
		fmt.Sprintf(` ORDER BY "timestamp" DESC, id DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		e, err := r.scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
