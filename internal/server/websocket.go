package server

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

type wsHub struct {
	mu     sync.Mutex
	groups map[string]map[*websocket.Conn]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{groups: make(map[string]map[*websocket.Conn]struct{})}
}

func (h *wsHub) Add(roomID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[roomID]
	if group == nil {
		group = make(map[*websocket.Conn]struct{})
		h.groups[roomID] = group
	}
	group[conn] = struct{}{}
}

func (h *wsHub) Remove(roomID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[roomID]
	if group == nil {
		return
	}
	delete(group, conn)
	_ = conn.Close()
	if len(group) == 0 {
		delete(h.groups, roomID)
	}
}

func (h *wsHub) Count(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[roomID])
}

func (h *wsHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, group := range h.groups {
		for conn := range group {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
		delete(h.groups, roomID)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

// handleWebsocket pushes the room's snapshot on connect and after every
// write until either side goes away.
func (s *Server) handleWebsocket(c *gin.Context) {
	snap, ok := s.loadRoom(c)
	if !ok {
		return
	}
	roomID := snap.Room.ID
	snapshots, cancel, err := s.rooms.Subscribe(c.Request.Context(), roomID)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		return
	}
	s.log.Debug().Str("room_id", roomID).Str("remote", c.Request.RemoteAddr).Msg("ws connected")
	s.ws.Add(roomID, conn)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		cancel()
		s.ws.Remove(roomID, conn)
		s.log.Debug().Str("room_id", roomID).Msg("ws disconnected")
	}()
	for {
		select {
		case <-closed:
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		}
	}
}
