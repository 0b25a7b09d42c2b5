package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"workorders/internal/domain"
	"workorders/internal/events"
	"workorders/internal/sequence"
)

type UserInput struct {
	ID    string `json:"id" validate:"required,max=128"`
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Role  string `json:"role" validate:"omitempty,max=64"`
}

// CreateOrg registers an organization. Existing ids are left as they are.
func (e Engine) CreateOrg(ctx context.Context, id, name, actorID string) (domain.Organization, error) {
	if err := sequence.ValidateOrgID(id); err != nil {
		return domain.Organization{}, err
	}
	org := domain.Organization{ID: id, Name: strings.TrimSpace(name), CreatedAt: e.nowString()}
	if org.Name == "" {
		org.Name = id
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.EnsureOrg(ctx, tx, org); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "org.created", id, "organization", id, actorID, events.Payload{"name": org.Name})
	})
	if err != nil {
		return domain.Organization{}, err
	}
	return e.Repo.GetOrg(ctx, id)
}

// UpsertUser creates or updates a user of orgID.
func (e Engine) UpsertUser(ctx context.Context, orgID string, in UserInput, actorID string) (domain.User, error) {
	if err := e.validate(in); err != nil {
		return domain.User{}, err
	}
	u := domain.User{ID: in.ID, OrgID: orgID, Name: in.Name, Email: strings.TrimSpace(in.Email), Role: in.Role, CreatedAt: e.nowString()}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.requireOrg(ctx, tx, orgID); err != nil {
			return err
		}
		if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "user.upserted", orgID, "user", u.ID, actorID, events.Payload{"role": u.Role})
	})
	if err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, nil, orgID, u.ID)
}

func (e Engine) CreateBranch(ctx context.Context, orgID, id, name, actorID string) (domain.Branch, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
		return domain.Branch{}, domain.ValidationError{Fields: map[string]string{"id": "required", "name": "required"}}
	}
	b := domain.Branch{ID: id, OrgID: orgID, Name: name, CreatedAt: e.nowString()}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.requireOrg(ctx, tx, orgID); err != nil {
			return err
		}
		if err := e.Repo.InsertBranch(ctx, tx, b); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, "branch.created", orgID, "branch", b.ID, actorID, events.Payload{"name": b.Name})
	})
	if err != nil {
		return domain.Branch{}, err
	}
	return b, nil
}

func (e Engine) requireOrg(ctx context.Context, tx *sql.Tx, orgID string) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations WHERE id=?`, orgID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("organization %s: %w", orgID, domain.ErrInvalidReference)
	}
	return nil
}

func (e Engine) ListNotifications(ctx context.Context, orgID, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	return e.Repo.ListNotifications(ctx, orgID, userID, unreadOnly, limit)
}

// MarkNotificationRead is only allowed for the notification's owner; other users
// see it as missing.
func (e Engine) MarkNotificationRead(ctx context.Context, orgID, userID, id string) (domain.Notification, error) {
	if err := e.Repo.MarkNotificationRead(ctx, orgID, userID, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Notification{}, fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
		}
		return domain.Notification{}, err
	}
	return e.Repo.GetNotification(ctx, orgID, id)
}

type PushTokenInput struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"required,oneof=android fcm ios apn"`
}

func (e Engine) RegisterPushToken(ctx context.Context, orgID, userID string, in PushTokenInput) (domain.PushToken, error) {
	in.Platform = strings.ToLower(strings.TrimSpace(in.Platform))
	if err := e.validate(in); err != nil {
		return domain.PushToken{}, err
	}
	t := domain.PushToken{OrgID: orgID, UserID: userID, Token: in.Token, Platform: in.Platform, UpdatedAt: e.nowString()}
	if err := e.Repo.UpsertPushToken(ctx, nil, t); err != nil {
		return domain.PushToken{}, err
	}
	return t, nil
}

func (e Engine) RemovePushToken(ctx context.Context, orgID, userID, token string) error {
	return e.Repo.DeletePushToken(ctx, orgID, userID, token)
}

func (e Engine) ListEvents(ctx context.Context, orgID, entityID string, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	return e.Repo.ListEvents(ctx, orgID, entityID, limit)
}
