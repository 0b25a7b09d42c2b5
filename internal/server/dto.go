package server

import (
	"encoding/json"

	"workorders/internal/domain"
	"workorders/internal/engine"
)

// Request payloads

type CreateWorkOrderRequest struct {
	TemplateID     string         `json:"template_id,omitempty"`
	BranchID       string         `json:"branch_id,omitempty"`
	AssigneeID     string         `json:"assignee_id,omitempty"`
	AssigneeRole   string         `json:"assignee_role,omitempty"`
	ScheduledStart string         `json:"scheduled_start,omitempty" format:"date-time"`
	Client         map[string]any `json:"client,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

type AssignRequest struct {
	AssigneeID string `json:"assignee_id" minLength:"1"`
	Note       string `json:"note,omitempty"`
}

type NoteRequest struct {
	Note string `json:"note,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CostRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount" example:"120.50"`
	Currency    string `json:"currency,omitempty" example:"USD"`
}

type PushTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform" enum:"android,fcm,ios,apn"`
}

type DevLoginRequest struct {
	UserID string   `json:"user_id"`
	OrgID  string   `json:"org_id"`
	Roles  []string `json:"roles,omitempty"`
}

// Responses

type WorkOrderResponse struct {
	ID             string                `json:"id"`
	OrgID          string                `json:"org_id"`
	OrgSeq         int64                 `json:"org_seq"`
	State          domain.State          `json:"state" enum:"Created,Assigned,Started,InReview,Done"`
	AssigneeID     *string               `json:"assignee_id,omitempty"`
	BranchID       *string               `json:"branch_id,omitempty"`
	TemplateID     *string               `json:"template_id,omitempty"`
	Client         any                   `json:"client,omitempty"`
	Data           any                   `json:"data,omitempty"`
	ScheduledStart *string               `json:"scheduled_start,omitempty"`
	History        []domain.HistoryEntry `json:"history"`
	Attachments    []domain.Attachment   `json:"attachments"`
	Costs          []domain.Cost         `json:"costs"`
	CostTotal      map[string]string     `json:"cost_total"`
	Dates          map[string]string     `json:"dates"`
	Deleted        bool                  `json:"deleted"`
	CreatedBy      string                `json:"created_by"`
	CreatedAt      string                `json:"created_at"`
	UpdatedAt      string                `json:"updated_at"`
}

type WorkOrderPage struct {
	Items []WorkOrderResponse `json:"items"`
	Total int                 `json:"total"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
}

type AttachmentResponse struct {
	WorkOrder WorkOrderResponse `json:"work_order"`
	File      domain.Attachment `json:"file"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func workOrderResponse(w domain.WorkOrder) WorkOrderResponse {
	resp := WorkOrderResponse{
		ID:             w.ID,
		OrgID:          w.OrgID,
		OrgSeq:         w.OrgSeq,
		State:          w.State,
		AssigneeID:     w.AssigneeID,
		BranchID:       w.BranchID,
		TemplateID:     w.TemplateID,
		ScheduledStart: w.ScheduledStart,
		History:        nonNilSlice(w.History),
		Attachments:    nonNilSlice(w.Attachments),
		Costs:          nonNilSlice(w.Costs),
		CostTotal:      engine.CostTotals(w.Costs),
		Dates:          w.Dates,
		Deleted:        w.Deleted,
		CreatedBy:      w.CreatedBy,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
	if len(w.Client) > 0 {
		resp.Client = w.Client
	}
	if len(w.Data) > 0 {
		resp.Data = w.Data
	}
	if resp.Dates == nil {
		resp.Dates = map[string]string{}
	}
	return resp
}

func eventResponse(evt domain.Event) EventResponse {
	var payload any = json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func rawJSON(m map[string]any) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
