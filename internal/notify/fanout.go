// Package notify dispatches work-order events to the realtime, in-app, push and
// email channels. Channels run independently and never report back to the caller.
package notify

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"workorders/internal/domain"
	"workorders/internal/metrics"
	"workorders/internal/realtime"
)

// Event kinds carried in notification meta.
const (
	KindAssigned  = "assigned"
	KindStarted   = "started"
	KindSubmitted = "submitted"
	KindApproved  = "approved"
	KindRejected  = "rejected"
)

const (
	EventNotificationNew = "notifications.new"
	defaultTimeout       = 15 * time.Second
)

// Broadcaster emits a live event to a room.
type Broadcaster interface {
	Emit(room, event string, data any) error
}

// Store is the persistence the fan-out needs.
type Store interface {
	InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error
	GetUser(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.User, error)
	ListPushTokens(ctx context.Context, orgID, userID string) ([]domain.PushToken, error)
	DeletePushToken(ctx context.Context, orgID, userID, token string) error
	InsertEmailLog(ctx context.Context, l domain.EmailLog) error
}

// Event is one durable notification towards TargetUserID.
type Event struct {
	OrgID        string
	TargetUserID string
	ActorID      string
	Kind         string
	SocketEvent  string
	Message      string
	Note         string
	WorkOrder    domain.WorkOrder
}

// Fanout holds the provider handles built at startup. A nil FCM, APNs or Mailer means
// that provider is not configured.
type Fanout struct {
	Log       *zap.Logger
	Broadcast Broadcaster
	Store     Store
	FCM       MulticastSender
	APNs      DeviceSender
	Mailer    Mailer
	Metrics   *metrics.Metrics
	Timeout   time.Duration
	Now       func() time.Time

	wg sync.WaitGroup
}

// Notify starts one task per channel and returns immediately. The tasks use their
// own deadline so they outlive the request that triggered them.
func (f *Fanout) Notify(ev Event) {
	if ev.TargetUserID == "" {
		return
	}
	for _, task := range []func(context.Context, Event){f.emitLive, f.persist, f.push, f.email} {
		f.wg.Add(1)
		go func(run func(context.Context, Event)) {
			defer f.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout())
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					f.logger(ev).Error("notification channel panicked", zap.Any("panic", r))
				}
			}()
			run(ctx, ev)
		}(task)
	}
}

// Emit sends a live-only event; failures are logged.
func (f *Fanout) Emit(room, event string, data any) {
	if f.Broadcast == nil {
		return
	}
	if err := f.Broadcast.Emit(room, event, data); err != nil {
		f.base().Warn("realtime emit failed", zap.String("room", room), zap.String("event", event), zap.Error(err))
		f.Metrics.Notification(metrics.ChannelRealtime, metrics.OutcomeError)
		return
	}
	f.Metrics.Notification(metrics.ChannelRealtime, metrics.OutcomeOK)
}

// Wait blocks until every started channel task has finished.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

func (f *Fanout) emitLive(_ context.Context, ev Event) {
	f.Emit(realtime.UserRoom(ev.OrgID, ev.TargetUserID), ev.SocketEvent, ev.WorkOrder)
}

func (f *Fanout) persist(ctx context.Context, ev Event) {
	n := domain.Notification{
		ID:      uuid.NewString(),
		OrgID:   ev.OrgID,
		UserID:  ev.TargetUserID,
		ActorID: ev.ActorID,
		Message: ev.Message,
		Meta: domain.NotificationMeta{
			WorkOrderID: ev.WorkOrder.ID,
			OrgSeq:      ev.WorkOrder.OrgSeq,
			Kind:        ev.Kind,
		},
		CreatedAt: domain.FormatTime(f.now()),
	}
	if err := f.Store.InsertNotification(ctx, nil, n); err != nil {
		f.logger(ev).Error("persist notification failed", zap.String("channel", metrics.ChannelNotification), zap.Error(err))
		f.Metrics.Notification(metrics.ChannelNotification, metrics.OutcomeError)
		return
	}
	f.Metrics.Notification(metrics.ChannelNotification, metrics.OutcomeOK)
	f.Emit(realtime.UserRoom(ev.OrgID, ev.TargetUserID), EventNotificationNew, n)
}

func (f *Fanout) push(ctx context.Context, ev Event) {
	log := f.logger(ev)
	tokens, err := f.Store.ListPushTokens(ctx, ev.OrgID, ev.TargetUserID)
	if err != nil {
		log.Error("load push tokens failed", zap.Error(err))
		return
	}
	var android, ios []string
	for _, t := range tokens {
		switch t.Platform {
		case domain.PlatformAndroid, domain.PlatformFCM:
			android = append(android, t.Token)
		case domain.PlatformIOS, domain.PlatformAPN:
			ios = append(ios, t.Token)
		default:
			log.Warn("push token with unknown platform", zap.String("platform", t.Platform))
		}
	}
	msg := PushMessage{
		Title: "Orden #" + strconv.FormatInt(ev.WorkOrder.OrgSeq, 10),
		Body:  ev.Message,
		Data: map[string]string{
			"workOrderId": ev.WorkOrder.ID,
			"orgSeq":      strconv.FormatInt(ev.WorkOrder.OrgSeq, 10),
			"kind":        ev.Kind,
		},
	}

	var wg sync.WaitGroup
	if len(android) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.pushAndroid(ctx, ev, android, msg)
		}()
	}
	if len(ios) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.pushIOS(ctx, ev, ios, msg)
		}()
	}
	wg.Wait()
}

func (f *Fanout) pushAndroid(ctx context.Context, ev Event, tokens []string, msg PushMessage) {
	log := f.logger(ev).With(zap.String("channel", metrics.ChannelPushFCM))
	if f.FCM == nil {
		log.Warn("fcm not configured; skipping tokens", zap.Int("tokens", len(tokens)))
		f.Metrics.Notification(metrics.ChannelPushFCM, metrics.OutcomeSkipped)
		return
	}
	failures, err := f.FCM.SendMulticast(ctx, tokens, msg)
	if err != nil {
		log.Error("fcm multicast failed", zap.Error(err))
		f.Metrics.Notification(metrics.ChannelPushFCM, metrics.OutcomeError)
		return
	}
	for _, fail := range failures {
		if !fail.Invalid {
			log.Warn("fcm delivery failed", zap.Error(fail.Err))
			continue
		}
		if err := f.Store.DeletePushToken(ctx, ev.OrgID, ev.TargetUserID, fail.Token); err != nil {
			log.Error("delete invalid push token failed", zap.Error(err))
			continue
		}
		log.Info("deleted invalid push token")
	}
	outcome := metrics.OutcomeOK
	if len(failures) == len(tokens) {
		outcome = metrics.OutcomeError
	}
	f.Metrics.Notification(metrics.ChannelPushFCM, outcome)
}

func (f *Fanout) pushIOS(ctx context.Context, ev Event, tokens []string, msg PushMessage) {
	log := f.logger(ev).With(zap.String("channel", metrics.ChannelPushAPNs))
	if f.APNs == nil {
		log.Warn("apns not configured; skipping tokens", zap.Int("tokens", len(tokens)))
		f.Metrics.Notification(metrics.ChannelPushAPNs, metrics.OutcomeSkipped)
		return
	}
	for _, t := range tokens {
		if err := f.APNs.Send(ctx, t, msg); err != nil {
			log.Warn("apns delivery failed", zap.Error(err))
			f.Metrics.Notification(metrics.ChannelPushAPNs, metrics.OutcomeError)
			continue
		}
		f.Metrics.Notification(metrics.ChannelPushAPNs, metrics.OutcomeOK)
	}
}

func (f *Fanout) email(ctx context.Context, ev Event) {
	log := f.logger(ev).With(zap.String("channel", metrics.ChannelEmail))
	user, err := f.Store.GetUser(ctx, nil, ev.OrgID, ev.TargetUserID)
	if err != nil {
		log.Warn("load email recipient failed", zap.Error(err))
		return
	}
	if user.Email == "" {
		return
	}
	entry := domain.EmailLog{
		ID:          uuid.NewString(),
		OrgID:       ev.OrgID,
		WorkOrderID: ev.WorkOrder.ID,
		To:          user.Email,
		CreatedAt:   domain.FormatTime(f.now()),
	}
	subject, body, err := renderEmail(ev, user.Name)
	switch {
	case err != nil:
		entry.Status = domain.EmailFailed
		entry.Error = err.Error()
	case f.Mailer == nil:
		entry.Status = domain.EmailSkipped
		entry.Error = "email provider not configured"
		log.Warn("email provider not configured")
	default:
		if err := f.Mailer.Send(ctx, []string{user.Email}, subject, body); err != nil {
			entry.Status = domain.EmailFailed
			entry.Error = err.Error()
			log.Error("email delivery failed", zap.Error(err))
		} else {
			entry.Status = domain.EmailSent
		}
	}
	entry.Subject = subject
	switch entry.Status {
	case domain.EmailSent:
		f.Metrics.Notification(metrics.ChannelEmail, metrics.OutcomeOK)
	case domain.EmailSkipped:
		f.Metrics.Notification(metrics.ChannelEmail, metrics.OutcomeSkipped)
	default:
		f.Metrics.Notification(metrics.ChannelEmail, metrics.OutcomeError)
	}
	if err := f.Store.InsertEmailLog(ctx, entry); err != nil {
		log.Error("write email log failed", zap.Error(err))
	}
}

func (f *Fanout) logger(ev Event) *zap.Logger {
	return f.base().With(
		zap.String("org_id", ev.OrgID),
		zap.String("work_order_id", ev.WorkOrder.ID),
		zap.String("target_user_id", ev.TargetUserID),
	)
}

func (f *Fanout) base() *zap.Logger {
	if f.Log == nil {
		return zap.NewNop()
	}
	return f.Log
}

func (f *Fanout) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return defaultTimeout
}

func (f *Fanout) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}
