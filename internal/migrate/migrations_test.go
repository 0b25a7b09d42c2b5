package migrate_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"workorders/internal/db"
	"workorders/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "wo.db")})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v1, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, 1, v1)

	v2, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, v1, v2)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='work_orders'`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestHistoryIsAppendOnly(t *testing.T) {
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "wo.db")})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `INSERT INTO work_orders(id,org_id,org_seq,state,created_by,created_at,updated_at) VALUES ('w1','o1',1,'Created','u','t','t')`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO work_order_history(work_order_id,user_id,to_state,ts) VALUES ('w1','u','Created','t')`)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `UPDATE work_order_history SET note='x'`)
	require.Error(t, err)
	_, err = conn.ExecContext(ctx, `DELETE FROM work_order_history`)
	require.Error(t, err)
	_, err = conn.ExecContext(ctx, `UPDATE work_orders SET state='Paused' WHERE id='w1'`)
	require.Error(t, err)
}
