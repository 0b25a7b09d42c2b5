package engine

import (
	"context"
	"database/sql"
	"fmt"

	"workorders/internal/domain"
	"workorders/internal/events"
	"workorders/internal/notify"
	"workorders/internal/realtime"
	"workorders/internal/repo"
)

// RejectNotePrefix starts the history note of every rejection.
const RejectNotePrefix = "Rechazado: "

var transitionEvents = map[domain.State]string{
	domain.StateAssigned: events.WorkOrderAssigned,
	domain.StateStarted:  events.WorkOrderStarted,
	domain.StateInReview: events.WorkOrderSubmitted,
	domain.StateDone:     events.WorkOrderApproved,
}

// Transition moves an order to the given state. The allowed edges are checked against
// the state read in the same transaction, and the write only applies while the
// stored state is still that one.
func (e Engine) Transition(ctx context.Context, orgID, id string, to domain.State, actorID, note string) (domain.WorkOrder, error) {
	return e.transition(ctx, orgID, id, to, actorID, note, transitionEvents[to], nil)
}

func (e Engine) transition(ctx context.Context, orgID, id string, to domain.State, actorID, note, evtType string, guard func(domain.WorkOrder) error) (domain.WorkOrder, error) {
	if !to.Valid() {
		return domain.WorkOrder{}, fmt.Errorf("%w: unknown state %q", domain.ErrInvalidInput, to)
	}
	var w domain.WorkOrder
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		w, err = e.loadLive(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(w); err != nil {
				return err
			}
		}
		if err := domain.EnsureTransition(w.State, to); err != nil {
			return err
		}
		ts := e.nowString()
		from := w.State
		dates := copyDates(w.Dates)
		if key := domain.DateKey(to); key != "" {
			dates[key] = ts
		}
		ok, err := e.Repo.UpdateState(ctx, tx, repo.StateUpdate{
			OrgID: orgID, ID: id, Expected: from, To: to, Dates: dates, UpdatedAt: ts,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("work order %s left %s: %w", id, from, domain.ErrConcurrentModification)
		}
		entry := domain.HistoryEntry{UserID: actorID, From: &from, To: to, Note: note, TS: ts}
		if err := e.Repo.AppendHistory(ctx, tx, id, entry); err != nil {
			return err
		}
		if evtType == "" {
			evtType = "workOrder.transitioned"
		}
		if err := e.events().Append(ctx, tx, evtType, orgID, "work_order", id, actorID, events.Payload{
			"from": string(from), "to": string(to), "org_seq": w.OrgSeq, "note": note,
		}); err != nil {
			return err
		}
		w.State = to
		w.Dates = dates
		w.UpdatedAt = ts
		w.History = append(w.History, entry)
		return nil
	})
	if err != nil {
		return domain.WorkOrder{}, err
	}
	e.Metrics.Transition(string(to))
	return w, nil
}

// Start is only allowed for the current assignee.
func (e Engine) Start(ctx context.Context, orgID, id, actorID, note string) (domain.WorkOrder, error) {
	w, err := e.transition(ctx, orgID, id, domain.StateStarted, actorID, note, events.WorkOrderStarted, func(w domain.WorkOrder) error {
		if w.Assignee() == "" || w.Assignee() != actorID {
			return domain.ForbiddenError{Action: "start this work order"}
		}
		return nil
	})
	if err != nil {
		return w, err
	}
	e.afterTransition(ctx, w, actorID, notify.KindStarted, events.WorkOrderStarted, w.LastAssigner(),
		fmt.Sprintf("%s inició la orden #%d", e.displayName(ctx, orgID, actorID), w.OrgSeq), note)
	return w, nil
}

func (e Engine) SubmitForReview(ctx context.Context, orgID, id, actorID, note string) (domain.WorkOrder, error) {
	w, err := e.transition(ctx, orgID, id, domain.StateInReview, actorID, note, events.WorkOrderSubmitted, nil)
	if err != nil {
		return w, err
	}
	e.afterTransition(ctx, w, actorID, notify.KindSubmitted, events.WorkOrderSubmitted, w.LastAssigner(),
		fmt.Sprintf("%s envió a revisión la orden #%d", e.displayName(ctx, orgID, actorID), w.OrgSeq), note)
	return w, nil
}

func (e Engine) Approve(ctx context.Context, orgID, id, actorID, note string) (domain.WorkOrder, error) {
	w, err := e.transition(ctx, orgID, id, domain.StateDone, actorID, note, events.WorkOrderApproved, nil)
	if err != nil {
		return w, err
	}
	e.afterTransition(ctx, w, actorID, notify.KindApproved, events.WorkOrderApproved, w.Assignee(),
		fmt.Sprintf("%s aprobó la orden #%d", e.displayName(ctx, orgID, actorID), w.OrgSeq), note)
	return w, nil
}

// Reject sends an order in review back to its assignee.
func (e Engine) Reject(ctx context.Context, orgID, id, actorID, reason string) (domain.WorkOrder, error) {
	note := RejectNotePrefix + reason
	w, err := e.transition(ctx, orgID, id, domain.StateAssigned, actorID, note, events.WorkOrderRejected, nil)
	if err != nil {
		return w, err
	}
	e.afterTransition(ctx, w, actorID, notify.KindRejected, events.WorkOrderRejected, w.Assignee(),
		fmt.Sprintf("%s rechazó la orden #%d", e.displayName(ctx, orgID, actorID), w.OrgSeq), note)
	return w, nil
}

// afterTransition broadcasts to the org room and notifies the counterpart, unless
// the counterpart is the actor.
func (e Engine) afterTransition(ctx context.Context, w domain.WorkOrder, actorID, kind, socketEvent, target, message, note string) {
	e.emit(realtime.OrgRoom(w.OrgID), socketEvent, w)
	if target == "" || target == actorID {
		return
	}
	e.notify(notify.Event{
		OrgID:        w.OrgID,
		TargetUserID: target,
		ActorID:      actorID,
		Kind:         kind,
		SocketEvent:  socketEvent,
		Message:      message,
		Note:         note,
		WorkOrder:    w,
	})
}
