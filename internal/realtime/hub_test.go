package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Event string            `json:"event"`
	Data  map[string]string `json:"data"`
}

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("org"), r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, org, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?org=" + org + "&user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEmitReachesRoomMembers(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dial(t, srv, "o1", "u1")

	require.Eventually(t, func() bool { return hub.Listeners(UserRoom("o1", "u1")) == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, 1, hub.Listeners(OrgRoom("o1")))

	require.NoError(t, hub.Emit(UserRoom("o1", "u2"), "workOrder.assigned", map[string]string{"id": "other"}))
	require.NoError(t, hub.Emit(UserRoom("o1", "u1"), "workOrder.assigned", map[string]string{"id": "w1"}))

	var msg frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "workOrder.assigned", msg.Event)
	require.Equal(t, "w1", msg.Data["id"])

	conn.Close()
	require.Eventually(t, func() bool { return hub.Listeners(UserRoom("o1", "u1")) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestUserRoomsAreScopedByOrg(t *testing.T) {
	hub, srv := newHubServer(t)
	mine := dial(t, srv, "o1", "tech")
	theirs := dial(t, srv, "o2", "tech")

	require.Eventually(t, func() bool {
		return hub.Listeners(UserRoom("o1", "tech")) == 1 && hub.Listeners(UserRoom("o2", "tech")) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Emit(UserRoom("o1", "tech"), "workOrder.assigned", map[string]string{"id": "w1"}))
	require.NoError(t, hub.Emit(UserRoom("o2", "tech"), "workOrder.assigned", map[string]string{"id": "w2"}))

	var got frame
	require.NoError(t, mine.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, mine.ReadJSON(&got))
	require.Equal(t, "w1", got.Data["id"])

	require.NoError(t, theirs.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, theirs.ReadJSON(&got))
	require.Equal(t, "w2", got.Data["id"])

	require.NoError(t, theirs.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	require.Error(t, theirs.ReadJSON(&got), "o2 must not see o1 frames")
}

func TestEmitWithoutListeners(t *testing.T) {
	hub := NewHub(nil)
	require.NoError(t, hub.Emit(OrgRoom("nobody"), "workOrder.created", nil))
}
