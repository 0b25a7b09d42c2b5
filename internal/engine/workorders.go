package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"workorders/internal/domain"
	"workorders/internal/events"
	"workorders/internal/files"
	"workorders/internal/realtime"
	"workorders/internal/repo"
)

const maxPageSize = 100

type CreateInput struct {
	TemplateID     string          `json:"template_id" validate:"omitempty,max=128"`
	BranchID       string          `json:"branch_id" validate:"omitempty,max=128"`
	AssigneeID     string          `json:"assignee_id" validate:"omitempty,max=128"`
	AssigneeRole   string          `json:"assignee_role" validate:"omitempty,max=64"`
	ScheduledStart string          `json:"scheduled_start" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Client         json.RawMessage `json:"client"`
	Data           json.RawMessage `json:"data"`
}

// Create allocates the order number, resolves the assignee and stores the order
// with its seeded history. A failed allocation persists nothing; a number allocated
// for a creation that fails later is not reused.
func (e Engine) Create(ctx context.Context, orgID string, in CreateInput, actorID string) (domain.WorkOrder, error) {
	if err := e.validate(in); err != nil {
		return domain.WorkOrder{}, err
	}
	if strings.TrimSpace(in.AssigneeID) != "" && strings.TrimSpace(in.AssigneeRole) != "" {
		return domain.WorkOrder{}, domain.ErrConflictingAssignment
	}
	for name, raw := range map[string]json.RawMessage{"client": in.Client, "data": in.Data} {
		if len(raw) > 0 && !json.Valid(raw) {
			return domain.WorkOrder{}, domain.ValidationError{Fields: map[string]string{name: "json"}}
		}
	}

	seq, err := e.Counter.Next(ctx, orgID)
	e.Metrics.Sequence(err)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	assignee, err := e.ResolveAssignee(ctx, orgID, in.AssigneeID, in.AssigneeRole)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if in.BranchID != "" {
		if _, err := e.Repo.GetBranch(ctx, nil, orgID, in.BranchID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.WorkOrder{}, fmt.Errorf("%w: branch %s", domain.ErrInvalidReference, in.BranchID)
			}
			return domain.WorkOrder{}, err
		}
	}

	ts := e.nowString()
	w := domain.WorkOrder{
		ID:          uuid.NewString(),
		OrgID:       orgID,
		OrgSeq:      seq,
		State:       domain.StateCreated,
		BranchID:    optional(in.BranchID),
		TemplateID:  optional(in.TemplateID),
		Client:      in.Client,
		Data:        in.Data,
		Attachments: []domain.Attachment{},
		Costs:       []domain.Cost{},
		Dates:       map[string]string{domain.DateCreated: ts},
		CreatedBy:   actorID,
		CreatedAt:   ts,
		UpdatedAt:   ts,
		History:     []domain.HistoryEntry{{UserID: actorID, To: domain.StateCreated, TS: ts}},
	}
	if in.ScheduledStart != "" {
		w.ScheduledStart = &in.ScheduledStart
	}
	if assignee != "" {
		created := domain.StateCreated
		w.State = domain.StateAssigned
		w.AssigneeID = &assignee
		w.Dates[domain.DateAssigned] = ts
		w.History = append(w.History, domain.HistoryEntry{UserID: actorID, From: &created, To: domain.StateAssigned, TS: ts})
	}

	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.EnsureOrg(ctx, tx, domain.Organization{ID: orgID, CreatedAt: ts}); err != nil {
			return err
		}
		if err := e.Repo.InsertWorkOrder(ctx, tx, w); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.WorkOrderCreated, orgID, "work_order", w.ID, actorID, events.Payload{
			"org_seq": w.OrgSeq, "state": string(w.State), "assignee_id": assignee,
		})
	})
	if err != nil {
		e.logger().Error("create work order failed after sequence allocation",
			zap.String("org_id", orgID), zap.Int64("org_seq", seq), zap.Error(err))
		return domain.WorkOrder{}, err
	}
	e.emit(realtime.OrgRoom(orgID), events.WorkOrderCreated, w)
	return w, nil
}

// Get returns an order of orgID, including soft-deleted ones.
func (e Engine) Get(ctx context.Context, orgID, id string) (domain.WorkOrder, error) {
	w, err := e.Repo.GetWorkOrder(ctx, nil, orgID, id)
	if errors.Is(err, domain.ErrNotFound) {
		return w, fmt.Errorf("work order %s: %w", id, domain.ErrNotFound)
	}
	return w, err
}

type ListOptions struct {
	OrgID          string
	Page           int
	Limit          int
	State          string
	AssigneeID     string
	BranchID       string
	IncludeDeleted bool
}

type ListResult struct {
	Items []domain.WorkOrder `json:"items"`
	Total int                `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}

func (e Engine) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	if opts.State != "" && !domain.State(opts.State).Valid() {
		return ListResult{}, domain.ValidationError{Fields: map[string]string{"state": "oneof"}}
	}
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > maxPageSize {
		opts.Limit = maxPageSize
	}
	items, total, err := e.Repo.ListWorkOrders(ctx, repo.WorkOrderFilters{
		OrgID: opts.OrgID, State: opts.State, AssigneeID: opts.AssigneeID, BranchID: opts.BranchID,
		IncludeDeleted: opts.IncludeDeleted, Page: opts.Page, Limit: opts.Limit,
	})
	if err != nil {
		return ListResult{}, err
	}
	if items == nil {
		items = []domain.WorkOrder{}
	}
	return ListResult{Items: items, Total: total, Page: opts.Page, Limit: opts.Limit}, nil
}

// Delete flags an order as deleted. Its history and attachments are kept.
func (e Engine) Delete(ctx context.Context, orgID, id, actorID string) error {
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		w, err := e.loadLive(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if err := e.Repo.SoftDeleteWorkOrder(ctx, tx, orgID, id, e.nowString()); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.WorkOrderDeleted, orgID, "work_order", id, actorID, events.Payload{"org_seq": w.OrgSeq})
	})
	if err != nil {
		return err
	}
	e.emit(realtime.OrgRoom(orgID), events.WorkOrderDeleted, map[string]string{"id": id})
	return nil
}

type AttachmentResult struct {
	WorkOrder domain.WorkOrder  `json:"work_order"`
	File      domain.Attachment `json:"file"`
}

// UploadAttachment stores a file and appends it to the order. Only a live event is
// emitted, to the assignee or, for unassigned orders, to the uploader.
func (e Engine) UploadAttachment(ctx context.Context, orgID, id string, up *files.Upload, actorID string) (AttachmentResult, error) {
	if _, err := e.loadLive(ctx, nil, orgID, id); err != nil {
		return AttachmentResult{}, err
	}
	if up == nil || up.Body == nil {
		return AttachmentResult{}, domain.ErrNoFile
	}
	if e.Files == nil {
		return AttachmentResult{}, errors.New("file storage not configured")
	}
	stored, err := e.Files.Save(ctx, orgID, id, *up)
	if err != nil {
		return AttachmentResult{}, err
	}
	name := filepath.Base(strings.TrimSpace(up.FileName))
	if name == "." || name == "/" || name == "" {
		name = filepath.Base(stored.Key)
	}
	att := domain.Attachment{
		ID:           uuid.NewString(),
		WorkOrderID:  id,
		FileName:     name,
		ContentType:  stored.ContentType,
		Size:         stored.Size,
		URL:          stored.URL,
		ThumbnailURL: stored.ThumbnailURL,
		UploadedBy:   actorID,
		CreatedAt:    e.nowString(),
	}
	var w domain.WorkOrder
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		w, err = e.loadLive(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if err := e.Repo.InsertAttachment(ctx, tx, orgID, att); err != nil {
			return err
		}
		if err := e.Repo.TouchWorkOrder(ctx, tx, orgID, id, att.CreatedAt); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.AttachmentAdded, orgID, "work_order", id, actorID, events.Payload{
			"attachment_id": att.ID, "file_name": att.FileName, "size": att.Size,
		})
	})
	if err != nil {
		if rmErr := e.Files.Remove(stored); rmErr != nil {
			e.logger().Warn("remove orphaned upload failed", zap.String("key", stored.Key), zap.Error(rmErr))
		}
		return AttachmentResult{}, err
	}
	w.Attachments = append(w.Attachments, att)
	w.UpdatedAt = att.CreatedAt
	res := AttachmentResult{WorkOrder: w, File: att}

	target := w.Assignee()
	if target == "" {
		target = actorID
	}
	e.emit(realtime.UserRoom(orgID, target), events.AttachmentAdded, res)
	return res, nil
}

type CostInput struct {
	Description string `json:"description" validate:"required,max=256"`
	Amount      string `json:"amount" validate:"required"`
	Currency    string `json:"currency" validate:"omitempty,len=3,alpha"`
}

// AddCost appends a cost line. Orders that reached Done are closed to new costs.
func (e Engine) AddCost(ctx context.Context, orgID, id string, in CostInput, actorID string) (domain.WorkOrder, error) {
	if err := e.validate(in); err != nil {
		return domain.WorkOrder{}, err
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
	if err != nil || !amount.IsPositive() {
		return domain.WorkOrder{}, domain.ValidationError{Fields: map[string]string{"amount": "positive_decimal"}}
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = e.DefaultCurrency
	}
	c := domain.Cost{
		ID:          uuid.NewString(),
		WorkOrderID: id,
		Description: strings.TrimSpace(in.Description),
		Amount:      amount.StringFixed(2),
		Currency:    currency,
		CreatedBy:   actorID,
		CreatedAt:   e.nowString(),
	}
	var w domain.WorkOrder
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		w, err = e.loadLive(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if w.State.Terminal() {
			return fmt.Errorf("work order %s: %w", id, domain.ErrClosed)
		}
		if err := e.Repo.InsertCost(ctx, tx, orgID, c); err != nil {
			return err
		}
		if err := e.Repo.TouchWorkOrder(ctx, tx, orgID, id, c.CreatedAt); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.CostAdded, orgID, "work_order", id, actorID, events.Payload{
			"cost_id": c.ID, "amount": c.Amount, "currency": c.Currency,
		})
	})
	if err != nil {
		return domain.WorkOrder{}, err
	}
	w.Costs = append(w.Costs, c)
	w.UpdatedAt = c.CreatedAt
	return w, nil
}

// CostTotals sums cost lines per currency.
func CostTotals(costs []domain.Cost) map[string]string {
	sums := map[string]decimal.Decimal{}
	for _, c := range costs {
		amount, err := decimal.NewFromString(c.Amount)
		if err != nil {
			continue
		}
		sums[c.Currency] = sums[c.Currency].Add(amount)
	}
	out := make(map[string]string, len(sums))
	for cur, sum := range sums {
		out[cur] = sum.StringFixed(2)
	}
	return out
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
