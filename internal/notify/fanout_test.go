package notify

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"workorders/internal/domain"
)

type emitted struct {
	room, event string
	data        any
}

type fakeBroadcast struct {
	mu     sync.Mutex
	events []emitted
}

func (b *fakeBroadcast) Emit(room, event string, data any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, emitted{room, event, data})
	return nil
}

func (b *fakeBroadcast) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, e := range b.events {
		out = append(out, e.room+" "+e.event)
	}
	return out
}

type fakeStore struct {
	mu            sync.Mutex
	users         map[string]domain.User
	tokens        []domain.PushToken
	notifications []domain.Notification
	emailLogs     []domain.EmailLog
	deleted       []string
	failInsert    bool
}

func (s *fakeStore) InsertNotification(_ context.Context, _ *sql.Tx, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert {
		return errors.New("db down")
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *fakeStore) GetUser(_ context.Context, _ *sql.Tx, orgID, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.OrgID != orgID {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) ListPushTokens(_ context.Context, orgID, userID string) ([]domain.PushToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PushToken
	for _, t := range s.tokens {
		if t.OrgID == orgID && t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) DeletePushToken(_ context.Context, _, _, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, token)
	return nil
}

func (s *fakeStore) InsertEmailLog(_ context.Context, l domain.EmailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emailLogs = append(s.emailLogs, l)
	return nil
}

type fakeFCM struct {
	mu      sync.Mutex
	sent    [][]string
	invalid map[string]bool
	err     error
	block   <-chan struct{}
}

func (f *fakeFCM) SendMulticast(ctx context.Context, tokens []string, _ PushMessage) ([]TokenFailure, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, tokens)
	var failures []TokenFailure
	for _, t := range tokens {
		if f.invalid[t] {
			failures = append(failures, TokenFailure{Token: t, Err: errors.New("unregistered"), Invalid: true})
		}
	}
	return failures, nil
}

type fakeAPNs struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (a *fakeAPNs) Send(_ context.Context, token string, _ PushMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, token)
	return a.err
}

type fakeMailer struct {
	mu       sync.Mutex
	subjects []string
	err      error
	sent     chan struct{}
}

func (m *fakeMailer) Send(_ context.Context, _ []string, subject, _ string) error {
	m.mu.Lock()
	m.subjects = append(m.subjects, subject)
	m.mu.Unlock()
	if m.sent != nil {
		close(m.sent)
	}
	return m.err
}

func newStore() *fakeStore {
	return &fakeStore{
		users: map[string]domain.User{
			"u1": {ID: "u1", OrgID: "o1", Name: "Ana", Email: "ana@example.com"},
			"u2": {ID: "u2", OrgID: "o1", Name: "Luis"},
		},
		tokens: []domain.PushToken{
			{OrgID: "o1", UserID: "u1", Token: "a1", Platform: domain.PlatformAndroid},
			{OrgID: "o1", UserID: "u1", Token: "a2", Platform: domain.PlatformFCM},
			{OrgID: "o1", UserID: "u1", Token: "i1", Platform: domain.PlatformIOS},
		},
	}
}

func assignedEvent() Event {
	return Event{
		OrgID: "o1", TargetUserID: "u1", ActorID: "u2",
		Kind: KindAssigned, SocketEvent: "workOrder.assigned",
		Message:   "Luis te asignó la orden #7",
		WorkOrder: domain.WorkOrder{ID: "w1", OrgID: "o1", OrgSeq: 7, State: domain.StateAssigned},
	}
}

func TestNotifyAllChannels(t *testing.T) {
	store := newStore()
	bc := &fakeBroadcast{}
	fcm := &fakeFCM{invalid: map[string]bool{"a2": true}}
	apns := &fakeAPNs{}
	mailer := &fakeMailer{}
	f := &Fanout{Log: zaptest.NewLogger(t), Broadcast: bc, Store: store, FCM: fcm, APNs: apns, Mailer: mailer}

	f.Notify(assignedEvent())
	f.Wait()

	require.ElementsMatch(t, []string{"user:o1:u1 workOrder.assigned", "user:o1:u1 notifications.new"}, bc.names())
	require.Len(t, store.notifications, 1)
	n := store.notifications[0]
	require.Equal(t, "u1", n.UserID)
	require.Equal(t, "u2", n.ActorID)
	require.Equal(t, int64(7), n.Meta.OrgSeq)
	require.False(t, n.Read)

	require.Equal(t, [][]string{{"a1", "a2"}}, fcm.sent)
	require.Equal(t, []string{"a2"}, store.deleted)
	require.Equal(t, []string{"i1"}, apns.sent)

	require.Equal(t, []string{"Orden de trabajo #7 asignada"}, mailer.subjects)
	require.Len(t, store.emailLogs, 1)
	require.Equal(t, domain.EmailSent, store.emailLogs[0].Status)
	require.Equal(t, "ana@example.com", store.emailLogs[0].To)
}

func TestNotifyFailuresAreIsolated(t *testing.T) {
	store := newStore()
	store.failInsert = true
	bc := &fakeBroadcast{}
	fcm := &fakeFCM{err: errors.New("fcm down")}
	apns := &fakeAPNs{err: errors.New("bad device")}
	mailer := &fakeMailer{err: errors.New("smtp refused")}
	f := &Fanout{Log: zaptest.NewLogger(t), Broadcast: bc, Store: store, FCM: fcm, APNs: apns, Mailer: mailer}

	f.Notify(assignedEvent())
	f.Wait()

	require.Equal(t, []string{"user:o1:u1 workOrder.assigned"}, bc.names())
	require.Empty(t, store.notifications)
	require.Empty(t, store.deleted)
	require.Len(t, store.emailLogs, 1)
	require.Equal(t, domain.EmailFailed, store.emailLogs[0].Status)
	require.True(t, strings.Contains(store.emailLogs[0].Error, "smtp refused"))
}

func TestNotifyWithoutProvidersLogsSkippedEmail(t *testing.T) {
	store := newStore()
	f := &Fanout{Log: zaptest.NewLogger(t), Store: store}

	f.Notify(assignedEvent())
	f.Wait()

	require.Len(t, store.notifications, 1)
	require.Len(t, store.emailLogs, 1)
	require.Equal(t, domain.EmailSkipped, store.emailLogs[0].Status)
	require.Empty(t, store.deleted)
}

func TestNotifySkipsEmailWithoutAddress(t *testing.T) {
	store := newStore()
	mailer := &fakeMailer{}
	f := &Fanout{Log: zaptest.NewLogger(t), Store: store, Mailer: mailer}

	ev := assignedEvent()
	ev.TargetUserID = "u2"
	f.Notify(ev)
	f.Wait()

	require.Empty(t, mailer.subjects)
	require.Empty(t, store.emailLogs)
	require.Len(t, store.notifications, 1)
}

func TestSlowPushDoesNotDelayEmail(t *testing.T) {
	store := newStore()
	release := make(chan struct{})
	mailed := make(chan struct{})
	fcm := &fakeFCM{block: release}
	mailer := &fakeMailer{sent: mailed}
	f := &Fanout{Log: zaptest.NewLogger(t), Store: store, FCM: fcm, Mailer: mailer, Timeout: 5 * time.Second}

	f.Notify(assignedEvent())
	select {
	case <-mailed:
	case <-time.After(2 * time.Second):
		t.Fatal("email waited for push delivery")
	}
	close(release)
	f.Wait()
	require.Len(t, fcm.sent, 1)
}

func TestNotifyWithoutTargetIsNoop(t *testing.T) {
	store := newStore()
	f := &Fanout{Store: store}
	ev := assignedEvent()
	ev.TargetUserID = ""
	f.Notify(ev)
	f.Wait()
	require.Empty(t, store.notifications)
}
