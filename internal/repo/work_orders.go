package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"workorders/internal/domain"
)

const workOrderColumns = `id,org_id,org_seq,state,assignee_id,branch_id,template_id,client_json,data_json,scheduled_start,dates_json,created_by,deleted,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row rowScanner) (domain.WorkOrder, error) {
	var w domain.WorkOrder
	var state string
	var assignee, branch, template, client, data, scheduled sql.NullString
	var dates string
	var deleted int
	err := row.Scan(&w.ID, &w.OrgID, &w.OrgSeq, &state, &assignee, &branch, &template, &client, &data, &scheduled, &dates, &w.CreatedBy, &deleted, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.State = domain.State(state)
	w.AssigneeID = stringPtr(assignee)
	w.BranchID = stringPtr(branch)
	w.TemplateID = stringPtr(template)
	w.ScheduledStart = stringPtr(scheduled)
	if client.Valid && client.String != "" {
		w.Client = json.RawMessage(client.String)
	}
	if data.Valid && data.String != "" {
		w.Data = json.RawMessage(data.String)
	}
	w.Dates = map[string]string{}
	if dates != "" {
		if err := json.Unmarshal([]byte(dates), &w.Dates); err != nil {
			return w, fmt.Errorf("decode dates of %s: %w", w.ID, err)
		}
	}
	w.Deleted = deleted != 0
	return w, nil
}

// InsertWorkOrder writes the document row and its seeded history.
func (r Repo) InsertWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	dates, err := json.Marshal(w.Dates)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO work_orders(`+workOrderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.OrgID, w.OrgSeq, string(w.State), nullableStringPtr(w.AssigneeID), nullableStringPtr(w.BranchID), nullableStringPtr(w.TemplateID),
		nullableRaw(w.Client), nullableRaw(w.Data), nullableStringPtr(w.ScheduledStart), string(dates), w.CreatedBy, boolInt(w.Deleted), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert work order: %w", err)
	}
	for _, h := range w.History {
		if err := r.AppendHistory(ctx, tx, w.ID, h); err != nil {
			return err
		}
	}
	return nil
}

// GetWorkOrder loads a work order with history, attachments and costs. The orgID
// predicate is always applied; an order of another tenant is reported as not found.
func (r Repo) GetWorkOrder(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.WorkOrder, error) {
	q := r.q(tx)
	w, err := scanWorkOrder(q.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE org_id=? AND id=?`, orgID, id))
	if err != nil {
		return w, err
	}
	if w.History, err = r.listHistory(ctx, q, w.ID); err != nil {
		return w, err
	}
	if w.Attachments, err = r.listAttachments(ctx, q, w.ID); err != nil {
		return w, err
	}
	if w.Costs, err = r.listCosts(ctx, q, w.ID); err != nil {
		return w, err
	}
	return w, nil
}

// StateUpdate is a conditional state write: it only applies while the stored state
// still equals Expected.
type StateUpdate struct {
	OrgID       string
	ID          string
	Expected    domain.State
	To          domain.State
	AssigneeID  *string
	SetAssignee bool
	Dates       map[string]string
	UpdatedAt   string
}

// UpdateState applies u and reports whether a row matched. A false result means the
// order changed state (or vanished) since it was read.
func (r Repo) UpdateState(ctx context.Context, tx *sql.Tx, u StateUpdate) (bool, error) {
	dates, err := json.Marshal(u.Dates)
	if err != nil {
		return false, err
	}
	query := `UPDATE work_orders SET state=?, dates_json=?, updated_at=?`
	args := []any{string(u.To), string(dates), u.UpdatedAt}
	if u.SetAssignee {
		query += `, assignee_id=?`
		args = append(args, nullableStringPtr(u.AssigneeID))
	}
	query += ` WHERE org_id=? AND id=? AND state=? AND deleted=0`
	args = append(args, u.OrgID, u.ID, string(u.Expected))
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) TouchWorkOrder(ctx context.Context, tx *sql.Tx, orgID, id, updatedAt string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE work_orders SET updated_at=? WHERE org_id=? AND id=?`, updatedAt, orgID, id)
	return err
}

// SoftDeleteWorkOrder flags the order as deleted. The row and its history are retained.
func (r Repo) SoftDeleteWorkOrder(ctx context.Context, tx *sql.Tx, orgID, id, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE work_orders SET deleted=1, updated_at=? WHERE org_id=? AND id=? AND deleted=0`, updatedAt, orgID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) AppendHistory(ctx context.Context, tx *sql.Tx, workOrderID string, h domain.HistoryEntry) error {
	var from any
	if h.From != nil {
		from = string(*h.From)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO work_order_history(work_order_id,user_id,from_state,to_state,note,ts) VALUES (?,?,?,?,?,?)`,
		workOrderID, h.UserID, from, string(h.To), nullable(h.Note), h.TS)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (r Repo) listHistory(ctx context.Context, q DBTX, workOrderID string) ([]domain.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id,from_state,to_state,COALESCE(note,''),ts FROM work_order_history WHERE work_order_id=? ORDER BY id`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.HistoryEntry{}
	for rows.Next() {
		var h domain.HistoryEntry
		var from sql.NullString
		var to string
		if err := rows.Scan(&h.UserID, &from, &to, &h.Note, &h.TS); err != nil {
			return nil, err
		}
		if from.Valid {
			s := domain.State(from.String)
			h.From = &s
		}
		h.To = domain.State(to)
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) InsertAttachment(ctx context.Context, tx *sql.Tx, orgID string, a domain.Attachment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO attachments(id,work_order_id,org_id,file_name,content_type,size,url,thumbnail_url,uploaded_by,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.WorkOrderID, orgID, a.FileName, a.ContentType, a.Size, a.URL, nullable(a.ThumbnailURL), a.UploadedBy, a.CreatedAt)
	return err
}

func (r Repo) listAttachments(ctx context.Context, q DBTX, workOrderID string) ([]domain.Attachment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,work_order_id,file_name,content_type,size,url,COALESCE(thumbnail_url,''),uploaded_by,created_at FROM attachments WHERE work_order_id=? ORDER BY created_at, rowid`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Attachment{}
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.WorkOrderID, &a.FileName, &a.ContentType, &a.Size, &a.URL, &a.ThumbnailURL, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) CountAttachments(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM attachments WHERE org_id=?`, orgID).Scan(&n)
	return n, err
}

func (r Repo) InsertCost(ctx context.Context, tx *sql.Tx, orgID string, c domain.Cost) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO costs(id,work_order_id,org_id,description,amount,currency,created_by,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.WorkOrderID, orgID, c.Description, c.Amount, c.Currency, c.CreatedBy, c.CreatedAt)
	return err
}

func (r Repo) listCosts(ctx context.Context, q DBTX, workOrderID string) ([]domain.Cost, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,work_order_id,description,amount,currency,created_by,created_at FROM costs WHERE work_order_id=? ORDER BY created_at, rowid`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Cost{}
	for rows.Next() {
		var c domain.Cost
		if err := rows.Scan(&c.ID, &c.WorkOrderID, &c.Description, &c.Amount, &c.Currency, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

type WorkOrderFilters struct {
	OrgID          string
	State          string
	AssigneeID     string
	BranchID       string
	IncludeDeleted bool
	Page           int
	Limit          int
}

// ListWorkOrders returns one page of orders, newest sequence first, and the total
// matching count. Items carry history, attachments and costs.
func (r Repo) ListWorkOrders(ctx context.Context, f WorkOrderFilters) ([]domain.WorkOrder, int, error) {
	clauses := []string{"org_id=?"}
	args := []any{f.OrgID}
	if !f.IncludeDeleted {
		clauses = append(clauses, "deleted=0")
	}
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.BranchID != "" {
		clauses = append(clauses, "branch_id=?")
		args = append(args, f.BranchID)
	}
	where := " WHERE " + strings.Join(clauses, " AND ")
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	query := `SELECT ` + workOrderColumns + ` FROM work_orders` + where + ` ORDER BY org_seq DESC LIMIT ? OFFSET ?`
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, err
	}
	var items []domain.WorkOrder
	for rows.Next() {
		w, err := scanWorkOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, err
	}
	rows.Close()
	// children are loaded after the cursor is closed; the pool holds a single connection
	for i := range items {
		if items[i].History, err = r.listHistory(ctx, r.DB, items[i].ID); err != nil {
			return nil, 0, err
		}
		if items[i].Attachments, err = r.listAttachments(ctx, r.DB, items[i].ID); err != nil {
			return nil, 0, err
		}
		if items[i].Costs, err = r.listCosts(ctx, r.DB, items[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (r Repo) CountWorkOrders(ctx context.Context, orgID string, includeDeleted bool) (int, error) {
	query := `SELECT COUNT(*) FROM work_orders WHERE org_id=?`
	if !includeDeleted {
		query += ` AND deleted=0`
	}
	var n int
	err := r.DB.QueryRowContext(ctx, query, orgID).Scan(&n)
	return n, err
}

func (r Repo) CountByState(ctx context.Context, orgID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT state, COUNT(*) FROM work_orders WHERE org_id=? AND deleted=0 GROUP BY state`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		res[s] = n
	}
	return res, rows.Err()
}
