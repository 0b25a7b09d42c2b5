package repo

import (
	"context"

	"workorders/internal/domain"
)

func (r Repo) InsertEmailLog(ctx context.Context, l domain.EmailLog) error {
	if l.CreatedAt == "" {
		l.CreatedAt = nowString()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO email_logs(id,org_id,work_order_id,to_address,subject,status,error,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		l.ID, l.OrgID, nullable(l.WorkOrderID), l.To, l.Subject, l.Status, nullable(l.Error), l.CreatedAt)
	return err
}

func (r Repo) ListEmailLogs(ctx context.Context, orgID string) ([]domain.EmailLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,COALESCE(work_order_id,''),to_address,subject,status,COALESCE(error,''),created_at FROM email_logs WHERE org_id=? ORDER BY created_at, rowid`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EmailLog
	for rows.Next() {
		var l domain.EmailLog
		if err := rows.Scan(&l.ID, &l.OrgID, &l.WorkOrderID, &l.To, &l.Subject, &l.Status, &l.Error, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
