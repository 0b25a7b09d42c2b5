package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"workorders/internal/domain"
)

// Event types appended alongside work-order mutations.
const (
	WorkOrderCreated    = "workOrder.created"
	WorkOrderAssigned   = "workOrder.assigned"
	WorkOrderStarted    = "workOrder.started"
	WorkOrderSubmitted  = "workOrder.submitted"
	WorkOrderApproved   = "workOrder.approved"
	WorkOrderRejected   = "workOrder.rejected"
	WorkOrderDeleted    = "workOrder.deleted"
	AttachmentAdded     = "workOrder.attachmentAdded"
	CostAdded           = "workOrder.costAdded"
	NotificationCreated = "notifications.new"
)

// Writer appends activity events inside the caller's transaction so an event exists
// iff its mutation committed.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, orgID, entityKind, entityID, actorID string, payload Payload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,org_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		domain.FormatTime(now()), evtType, orgID, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
