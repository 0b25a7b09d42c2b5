package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"workorders/internal/domain"
	"workorders/internal/events"
	"workorders/internal/notify"
	"workorders/internal/repo"
)

// ResolveAssignee picks the user an order is assigned to. An explicit id that is not
// a user of the org, or a role nobody holds, resolves to "" rather than an error.
// Among several holders of a role the smallest user id wins.
func (e Engine) ResolveAssignee(ctx context.Context, orgID, assigneeID, assigneeRole string) (string, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	assigneeRole = strings.TrimSpace(assigneeRole)
	if assigneeID != "" && assigneeRole != "" {
		return "", domain.ErrConflictingAssignment
	}
	switch {
	case assigneeID != "":
		u, err := e.Repo.GetUser(ctx, nil, orgID, assigneeID)
		if errors.Is(err, domain.ErrNotFound) {
			e.logger().Info("assignee not found in org; leaving unassigned")
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return u.ID, nil
	case assigneeRole != "":
		u, err := e.Repo.FirstUserWithRole(ctx, nil, orgID, assigneeRole)
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return u.ID, nil
	}
	return "", nil
}

// Reassign forces an order into Assigned for newAssigneeID from whatever state it is
// in. The history entry records a null origin state.
func (e Engine) Reassign(ctx context.Context, orgID, id, newAssigneeID, actorID, note string) (domain.WorkOrder, error) {
	newAssigneeID = strings.TrimSpace(newAssigneeID)
	if newAssigneeID == "" {
		return domain.WorkOrder{}, domain.ValidationError{Fields: map[string]string{"assignee_id": "required"}}
	}
	var w domain.WorkOrder
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		w, err = e.loadLive(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if _, err := e.Repo.GetUser(ctx, tx, orgID, newAssigneeID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: user %s", domain.ErrInvalidReference, newAssigneeID)
			}
			return err
		}
		ts := e.nowString()
		dates := copyDates(w.Dates)
		dates[domain.DateAssigned] = ts
		assignee := newAssigneeID
		ok, err := e.Repo.UpdateState(ctx, tx, repo.StateUpdate{
			OrgID: orgID, ID: id, Expected: w.State, To: domain.StateAssigned,
			AssigneeID: &assignee, SetAssignee: true, Dates: dates, UpdatedAt: ts,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("work order %s left %s: %w", id, w.State, domain.ErrConcurrentModification)
		}
		entry := domain.HistoryEntry{UserID: actorID, To: domain.StateAssigned, Note: note, TS: ts}
		if err := e.Repo.AppendHistory(ctx, tx, id, entry); err != nil {
			return err
		}
		if err := e.events().Append(ctx, tx, events.WorkOrderAssigned, orgID, "work_order", id, actorID, events.Payload{
			"previous_state": string(w.State), "assignee_id": assignee, "org_seq": w.OrgSeq,
		}); err != nil {
			return err
		}
		w.State = domain.StateAssigned
		w.AssigneeID = &assignee
		w.Dates = dates
		w.UpdatedAt = ts
		w.History = append(w.History, entry)
		return nil
	})
	if err != nil {
		return domain.WorkOrder{}, err
	}
	e.Metrics.Transition(string(domain.StateAssigned))
	return w, nil
}

// AssignWorkOrder reassigns and notifies the new assignee on every channel.
func (e Engine) AssignWorkOrder(ctx context.Context, orgID, id, assigneeID, actorID, note string) (domain.WorkOrder, error) {
	w, err := e.Reassign(ctx, orgID, id, assigneeID, actorID, note)
	if err != nil {
		return w, err
	}
	e.notify(notify.Event{
		OrgID:        orgID,
		TargetUserID: w.Assignee(),
		ActorID:      actorID,
		Kind:         notify.KindAssigned,
		SocketEvent:  events.WorkOrderAssigned,
		Message:      fmt.Sprintf("%s te asignó la orden #%d", e.displayName(ctx, orgID, actorID), w.OrgSeq),
		Note:         note,
		WorkOrder:    w,
	})
	return w, nil
}
