package auth_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"workorders/internal/db"
	"workorders/internal/domain"
	"workorders/internal/engine/auth"
	"workorders/internal/migrate"
	"workorders/internal/repo"
)

func TestRequire(t *testing.T) {
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "wo.db")})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	require.NoError(t, r.EnsureOrg(ctx, nil, domain.Organization{ID: "o1"}))
	require.NoError(t, r.InsertUser(ctx, nil, domain.User{OrgID: "o1", ID: "boss", Name: "Boss", Role: "supervisor"}))
	require.NoError(t, r.InsertUser(ctx, nil, domain.User{OrgID: "o1", ID: "tech", Name: "Tech", Role: "technician"}))

	svc := auth.Service{DB: conn, Rules: map[string][]string{auth.ActionApprove: {"supervisor", "admin"}}}
	require.NoError(t, svc.Require(ctx, "o1", "boss", auth.ActionApprove))
	require.ErrorIs(t, svc.Require(ctx, "o1", "tech", auth.ActionApprove), domain.ErrForbidden)
	require.ErrorIs(t, svc.Require(ctx, "o1", "stranger", auth.ActionApprove), domain.ErrForbidden)
	require.NoError(t, svc.Require(ctx, "o1", "tech", auth.ActionReject))
}
