package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"workorders/internal/domain"
	"workorders/internal/events"
	"workorders/internal/files"
	"workorders/internal/metrics"
	"workorders/internal/notify"
	"workorders/internal/repo"
	"workorders/internal/sequence"
)

// Notifier receives work-order events after they are committed.
type Notifier interface {
	Notify(ev notify.Event)
	Emit(room, event string, data any)
}

// FileStore persists attachment bytes.
type FileStore interface {
	Save(ctx context.Context, orgID, workOrderID string, up files.Upload) (files.Stored, error)
	Remove(st files.Stored) error
}

// Engine runs every work-order operation. Each mutation commits in one transaction;
// notifications are started only after the commit.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Counter  sequence.Counter
	Notifier Notifier
	Files    FileStore
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	Validate *validator.Validate
	Now      func() time.Time

	DefaultCurrency string
}

func New(db *sql.DB, counter sequence.Counter, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:              db,
		Repo:            repo.Repo{DB: db},
		Events:          events.Writer{},
		Counter:         counter,
		Log:             log.Named("engine"),
		Validate:        validator.New(validator.WithRequiredStructEnabled()),
		Now:             time.Now,
		DefaultCurrency: "USD",
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) nowString() string {
	return domain.FormatTime(e.now())
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) validate(v any) error {
	if e.Validate == nil {
		return nil
	}
	err := e.Validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return domain.ValidationError{Fields: fields}
}

// inTx runs fn in a transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// loadLive reads an order inside tx; deleted orders are reported as not found.
func (e Engine) loadLive(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.WorkOrder, error) {
	w, err := e.Repo.GetWorkOrder(ctx, tx, orgID, id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && w.Deleted) {
		return w, fmt.Errorf("work order %s: %w", id, domain.ErrNotFound)
	}
	return w, err
}

func (e Engine) emit(room, event string, data any) {
	if e.Notifier != nil {
		e.Notifier.Emit(room, event, data)
	}
}

func (e Engine) notify(ev notify.Event) {
	if e.Notifier != nil {
		e.Notifier.Notify(ev)
	}
}

// displayName is the user's name, falling back to the id.
func (e Engine) displayName(ctx context.Context, orgID, userID string) string {
	u, err := e.Repo.GetUser(ctx, nil, orgID, userID)
	if err != nil || strings.TrimSpace(u.Name) == "" {
		return userID
	}
	return u.Name
}

func copyDates(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
