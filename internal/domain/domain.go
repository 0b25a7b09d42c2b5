package domain

import (
	"encoding/json"
	"time"
)

// TimeLayout is a fixed-width UTC timestamp so stored values sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// State is a work order lifecycle state.
type State string

const (
	StateCreated  State = "Created"
	StateAssigned State = "Assigned"
	StateStarted  State = "Started"
	StateInReview State = "InReview"
	StateDone     State = "Done"
)

// Well-known keys of WorkOrder.Dates.
const (
	DateCreated    = "created"
	DateAssigned   = "assigned"
	DateStart      = "start"
	DateEnd        = "end"
	DateApprovedAt = "approvedAt"
)

type WorkOrder struct {
	ID             string            `json:"id"`
	OrgID          string            `json:"org_id"`
	OrgSeq         int64             `json:"org_seq"`
	State          State             `json:"state" enum:"Created,Assigned,Started,InReview,Done"`
	AssigneeID     *string           `json:"assignee_id,omitempty"`
	BranchID       *string           `json:"branch_id,omitempty"`
	TemplateID     *string           `json:"template_id,omitempty"`
	Client         json.RawMessage   `json:"client,omitempty"`
	Data           json.RawMessage   `json:"data,omitempty"`
	ScheduledStart *string           `json:"scheduled_start,omitempty" format:"date-time"`
	History        []HistoryEntry    `json:"history"`
	Attachments    []Attachment      `json:"attachments"`
	Costs          []Cost            `json:"costs"`
	Dates          map[string]string `json:"dates"`
	Deleted        bool              `json:"deleted"`
	CreatedBy      string            `json:"created_by"`
	CreatedAt      string            `json:"created_at" format:"date-time"`
	UpdatedAt      string            `json:"updated_at" format:"date-time"`
}

// Assignee returns the assignee id or "" when unassigned.
func (w WorkOrder) Assignee() string {
	if w.AssigneeID == nil {
		return ""
	}
	return *w.AssigneeID
}

// LastAssigner returns the user that most recently moved the order into Assigned.
func (w WorkOrder) LastAssigner() string {
	for i := len(w.History) - 1; i >= 0; i-- {
		if w.History[i].To == StateAssigned {
			return w.History[i].UserID
		}
	}
	return ""
}

type HistoryEntry struct {
	UserID string `json:"user_id"`
	From   *State `json:"from"`
	To     State  `json:"to"`
	Note   string `json:"note,omitempty"`
	TS     string `json:"ts" format:"date-time"`
}

type Attachment struct {
	ID           string `json:"id"`
	WorkOrderID  string `json:"work_order_id"`
	FileName     string `json:"file_name"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	UploadedBy   string `json:"uploaded_by"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Cost struct {
	ID          string `json:"id"`
	WorkOrderID string `json:"work_order_id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Branch struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID        string           `json:"id"`
	OrgID     string           `json:"org_id"`
	UserID    string           `json:"user_id"`
	ActorID   string           `json:"actor_id"`
	Message   string           `json:"message"`
	Meta      NotificationMeta `json:"meta"`
	Read      bool             `json:"read"`
	CreatedAt string           `json:"created_at" format:"date-time"`
}

type NotificationMeta struct {
	WorkOrderID string `json:"work_order_id"`
	OrgSeq      int64  `json:"org_seq"`
	Kind        string `json:"kind,omitempty"`
}

// Push platforms as registered by clients. Android/FCM and iOS/APNs are aliases.
const (
	PlatformAndroid = "android"
	PlatformFCM     = "fcm"
	PlatformIOS     = "ios"
	PlatformAPN     = "apn"
)

type PushToken struct {
	OrgID     string `json:"org_id"`
	UserID    string `json:"user_id"`
	Token     string `json:"token"`
	Platform  string `json:"platform" enum:"android,fcm,ios,apn"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Email delivery outcomes recorded in the email log.
const (
	EmailSent    = "sent"
	EmailFailed  = "failed"
	EmailSkipped = "skipped"
)

type EmailLog struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	WorkOrderID string `json:"work_order_id,omitempty"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Status      string `json:"status" enum:"sent,failed,skipped"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
