package repo

import (
	"context"
	"database/sql"

	"workorders/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if u.CreatedAt == "" {
		u.CreatedAt = nowString()
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(org_id,id,name,email,role,created_at) VALUES (?,?,?,?,?,?)
		ON CONFLICT(org_id,id) DO UPDATE SET name=excluded.name, email=excluded.email, role=excluded.role`,
		u.OrgID, u.ID, u.Name, nullable(u.Email), nullable(u.Role), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, `SELECT org_id,id,name,COALESCE(email,''),COALESCE(role,''),created_at FROM users WHERE org_id=? AND id=?`, orgID, id))
}

// FirstUserWithRole returns the user with the smallest id holding role in orgID.
func (r Repo) FirstUserWithRole(ctx context.Context, tx *sql.Tx, orgID, role string) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, `SELECT org_id,id,name,COALESCE(email,''),COALESCE(role,''),created_at FROM users WHERE org_id=? AND role=? ORDER BY id LIMIT 1`, orgID, role))
}

func (r Repo) ListUsers(ctx context.Context, orgID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT org_id,id,name,COALESCE(email,''),COALESCE(role,''),created_at FROM users WHERE org_id=? ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.OrgID, &u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) InsertBranch(ctx context.Context, tx *sql.Tx, b domain.Branch) error {
	if b.CreatedAt == "" {
		b.CreatedAt = nowString()
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO branches(org_id,id,name,created_at) VALUES (?,?,?,?)`, b.OrgID, b.ID, b.Name, b.CreatedAt)
	return err
}

func (r Repo) GetBranch(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.Branch, error) {
	var b domain.Branch
	err := r.q(tx).QueryRowContext(ctx, `SELECT org_id,id,name,created_at FROM branches WHERE org_id=? AND id=?`, orgID, id).
		Scan(&b.OrgID, &b.ID, &b.Name, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) ListBranches(ctx context.Context, orgID string) ([]domain.Branch, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT org_id,id,name,created_at FROM branches WHERE org_id=? ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Branch
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.OrgID, &b.ID, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
