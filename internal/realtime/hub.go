// Package realtime pushes JSON events to websocket clients grouped in rooms.
// Every connection joins org:<orgId> and user:<orgId>:<userId>.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

func OrgRoom(orgID string) string { return "org:" + orgID }

// UserRoom is scoped by org since user ids are only unique within one.
func UserRoom(orgID, userID string) string { return "user:" + orgID + ":" + userID }

// Message is the frame written to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	rooms []string
}

type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log: log.Named("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms: map[string]map[*client]struct{}{},
	}
}

// Emit sends event to every client in room. A room without listeners is not an
// error; slow clients whose buffer is full miss the frame.
func (h *Hub) Emit(room, event string, data any) error {
	frame, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- frame:
		default:
			h.log.Warn("dropping frame for slow client", zap.String("room", room), zap.String("event", event))
		}
	}
	return nil
}

// Listeners reports how many connections are in room.
func (h *Hub) Listeners(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Serve upgrades the request and keeps the connection in the caller's rooms until
// it closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, orgID, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		rooms: []string{OrgRoom(orgID), UserRoom(orgID, userID)},
	}
	h.join(c)
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range c.rooms {
		members, ok := h.rooms[room]
		if !ok {
			members = map[*client]struct{}{}
			h.rooms[room] = members
		}
		members[c] = struct{}{}
	}
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range c.rooms {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	close(c.send)
}

// readPump discards client frames; it only exists to observe pongs and closure.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
