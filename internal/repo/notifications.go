package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"workorders/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	meta, err := json.Marshal(n.Meta)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO notifications(id,org_id,user_id,actor_id,message,meta_json,read,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.OrgID, n.UserID, n.ActorID, n.Message, string(meta), boolInt(n.Read), n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r Repo) GetNotification(ctx context.Context, orgID, id string) (domain.Notification, error) {
	return scanNotification(r.DB.QueryRowContext(ctx, `SELECT id,org_id,user_id,actor_id,message,meta_json,read,created_at FROM notifications WHERE org_id=? AND id=?`, orgID, id))
}

// ListNotifications returns the notifications of one user, newest first.
func (r Repo) ListNotifications(ctx context.Context, orgID, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,org_id,user_id,actor_id,message,meta_json,read,created_at FROM notifications WHERE org_id=? AND user_id=?`
	if unreadOnly {
		query += ` AND read=0`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	args := []any{orgID, userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead sets read on a notification owned by userID. Already-read
// notifications are left untouched.
func (r Repo) MarkNotificationRead(ctx context.Context, orgID, userID, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE org_id=? AND user_id=? AND id=?`, orgID, userID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanNotification(row rowScanner) (domain.Notification, error) {
	var n domain.Notification
	var meta string
	var read int
	err := row.Scan(&n.ID, &n.OrgID, &n.UserID, &n.ActorID, &n.Message, &meta, &read, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &n.Meta); err != nil {
			return n, fmt.Errorf("decode notification meta: %w", err)
		}
	}
	n.Read = read != 0
	return n, nil
}
