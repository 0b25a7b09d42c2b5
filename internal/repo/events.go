package repo

import (
	"context"

	"workorders/internal/domain"
)

const eventColumns = `id,ts,type,org_id,entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

// EventsAfter returns up to limit events with id > afterID across all orgs, oldest first.
func (r Repo) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id LIMIT ?`, afterID, limit)
}

// ListEvents returns the newest events of one org, optionally narrowed to an entity.
func (r Repo) ListEvents(ctx context.Context, orgID, entityID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if entityID != "" {
		return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE org_id=? AND entity_id=? ORDER BY id DESC LIMIT ?`, orgID, entityID, limit)
	}
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE org_id=? ORDER BY id DESC LIMIT ?`, orgID, limit)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OrgID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
