package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"workorders/internal/config"
	"workorders/internal/engine"
	"workorders/internal/events"
	"workorders/internal/repo"
)

type captured struct {
	mu      sync.Mutex
	headers []http.Header
	bodies  []webhookEvent
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		_ = json.Unmarshal(data, &evt)
		c.mu.Lock()
		c.headers = append(c.headers, r.Header.Clone())
		c.bodies = append(c.bodies, evt)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func TestWebhookRelaysNewEventsOnly(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()
	r := repo.Repo{DB: srv.engine.DB}

	// Present before the relay starts: never delivered.
	_, err := srv.engine.Create(ctx, "acme", engine.CreateInput{}, "boss")
	require.NoError(t, err)

	sink := &captured{}
	hook := httptest.NewServer(sink.handler(http.StatusOK))
	defer hook.Close()
	d := newWebhookDispatcher(r, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{events.WorkOrderAssigned},
		Secret: "s3",
	}}, zaptest.NewLogger(t))
	d.dispatchAll(ctx)
	require.Empty(t, sink.bodies)

	w, err := srv.engine.Create(ctx, "acme", engine.CreateInput{}, "boss")
	require.NoError(t, err)
	_, err = srv.engine.AssignWorkOrder(ctx, "acme", w.ID, "tech", "boss", "")
	require.NoError(t, err)

	d.dispatchAll(ctx)
	require.Len(t, sink.bodies, 1)
	require.Equal(t, events.WorkOrderAssigned, sink.bodies[0].Type)
	require.Equal(t, w.ID, sink.bodies[0].EntityID)
	require.Equal(t, "s3", sink.headers[0].Get("X-WO-Secret"))
	require.Equal(t, "acme", sink.headers[0].Get("X-WO-Org"))

	d.dispatchAll(ctx)
	require.Len(t, sink.bodies, 1)
}

func TestWebhookScopedToOrg(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()
	sink := &captured{}
	hook := httptest.NewServer(sink.handler(http.StatusOK))
	defer hook.Close()
	d := newWebhookDispatcher(repo.Repo{DB: srv.engine.DB}, []config.WebhookConfig{{
		URL:   hook.URL,
		OrgID: "other",
	}}, zaptest.NewLogger(t))
	d.dispatchAll(ctx)

	_, err := srv.engine.Create(ctx, "acme", engine.CreateInput{}, "boss")
	require.NoError(t, err)
	mine, err := srv.engine.Create(ctx, "other", engine.CreateInput{}, "boss")
	require.NoError(t, err)
	d.dispatchAll(ctx)

	require.Len(t, sink.bodies, 1)
	require.Equal(t, "other", sink.bodies[0].OrgID)
	require.Equal(t, mine.ID, sink.bodies[0].EntityID)

	d.dispatchAll(ctx)
	require.Len(t, sink.bodies, 1)
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()
	sink := &captured{}
	hook := httptest.NewServer(sink.handler(http.StatusInternalServerError))
	defer hook.Close()
	d := newWebhookDispatcher(repo.Repo{DB: srv.engine.DB}, []config.WebhookConfig{{URL: hook.URL}}, zaptest.NewLogger(t))
	d.dispatchAll(ctx)

	_, err := srv.engine.Create(ctx, "acme", engine.CreateInput{}, "boss")
	require.NoError(t, err)
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)
	require.Len(t, sink.bodies, 2)
	require.Equal(t, sink.bodies[0].ID, sink.bodies[1].ID)
}

func TestEventFilter(t *testing.T) {
	require.True(t, newEventFilter(nil).match("anything"))
	require.True(t, newEventFilter([]string{" "}).match("anything"))
	f := newEventFilter([]string{"workOrder.approved"})
	require.True(t, f.match("workOrder.approved"))
	require.False(t, f.match("workOrder.rejected"))
}
