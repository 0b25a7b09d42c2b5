// Package auth decides which org roles may perform the supervisory work-order
// actions. Actions without a rule are open to every member.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"workorders/internal/domain"
)

// Actions that can carry a role rule.
const (
	ActionCreate  = "create"
	ActionAssign  = "assign"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionDelete  = "delete"
	ActionCost    = "cost"
)

// Service checks actor roles stored in the users table.
type Service struct {
	DB    *sql.DB
	Rules map[string][]string
}

// ActorRole returns the role of actorID in orgID, or "" for unknown actors.
func (s Service) ActorRole(ctx context.Context, orgID, actorID string) (string, error) {
	var role sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT role FROM users WHERE org_id=? AND id=?`, orgID, actorID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return role.String, nil
}

// Require returns a ForbiddenError when a rule exists for action and the actor's
// role is not listed in it.
func (s Service) Require(ctx context.Context, orgID, actorID, action string) error {
	allowed, ok := s.Rules[action]
	if !ok || len(allowed) == 0 {
		return nil
	}
	role, err := s.ActorRole(ctx, orgID, actorID)
	if err != nil {
		return err
	}
	for _, r := range allowed {
		if strings.EqualFold(strings.TrimSpace(r), role) && role != "" {
			return nil
		}
	}
	return domain.ForbiddenError{Action: action + " work orders"}
}
