package sequence

import (
	"context"
	"database/sql"
)

// SQLite keeps one row per organization in the counters table. The increment and the
// read happen in a single upsert statement.
type SQLite struct {
	DB *sql.DB
}

func (s SQLite) Next(ctx context.Context, orgID string) (int64, error) {
	if err := ValidateOrgID(orgID); err != nil {
		return 0, err
	}
	var seq int64
	err := s.DB.QueryRowContext(ctx, `INSERT INTO counters(org_id, seq) VALUES (?, 1)
ON CONFLICT(org_id) DO UPDATE SET seq = seq + 1
RETURNING seq`, orgID).Scan(&seq)
	if err != nil {
		return 0, unavailable(orgID, err)
	}
	return seq, nil
}
