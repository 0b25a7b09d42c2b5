package repo

import (
	"context"
	"database/sql"

	"workorders/internal/domain"
)

// UpsertPushToken registers a device token; re-registering the same token keeps the
// latest platform.
func (r Repo) UpsertPushToken(ctx context.Context, tx *sql.Tx, t domain.PushToken) error {
	if t.UpdatedAt == "" {
		t.UpdatedAt = nowString()
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO push_tokens(org_id,user_id,token,platform,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(org_id,user_id,token) DO UPDATE SET platform=excluded.platform, updated_at=excluded.updated_at`,
		t.OrgID, t.UserID, t.Token, t.Platform, t.UpdatedAt)
	return err
}

func (r Repo) ListPushTokens(ctx context.Context, orgID, userID string) ([]domain.PushToken, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT org_id,user_id,token,platform,updated_at FROM push_tokens WHERE org_id=? AND user_id=? ORDER BY token`, orgID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PushToken
	for rows.Next() {
		var t domain.PushToken
		if err := rows.Scan(&t.OrgID, &t.UserID, &t.Token, &t.Platform, &t.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeletePushToken(ctx context.Context, orgID, userID, token string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM push_tokens WHERE org_id=? AND user_id=? AND token=?`, orgID, userID, token)
	return err
}
