package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"party-play/internal/room"
)

type codeURI struct {
	Code string `uri:"code" binding:"required,joincode"`
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// writeRoomError maps a room error to its status. The body carries the
// sentinel's message so clients can recover the error value.
func (s *Server) writeRoomError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch room.Kind(err) {
	case room.KindNotFound:
		status = http.StatusNotFound
	case room.KindAuthorization:
		status = http.StatusForbidden
	case room.KindPrecondition, room.KindConflict:
		status = http.StatusConflict
	case room.KindValidation:
		status = http.StatusBadRequest
	case room.KindRateLimited:
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		writeError(c, status, "internal error")
		return
	}
	body := gin.H{"error": room.Sentinel(err).Error()}
	if detail := err.Error(); detail != body["error"] {
		body["detail"] = detail
	}
	c.AbortWithStatusJSON(status, body)
}

// sessionID reads the caller's session header. It writes a 400 and returns
// false when the header is missing or malformed.
func sessionID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.GetHeader(sessionHeader))
	if !validSessionID(id) {
		writeError(c, http.StatusBadRequest, "session id is required")
		return "", false
	}
	return id, true
}

// loadRoom resolves the :code parameter.
func (s *Server) loadRoom(c *gin.Context) (room.Snapshot, bool) {
	var uri codeURI
	if !bindURI(c, &uri) {
		return room.Snapshot{}, false
	}
	snap, err := s.rooms.RoomByCode(c.Request.Context(), uri.Code)
	if err != nil {
		s.writeRoomError(c, err)
		return room.Snapshot{}, false
	}
	return snap, true
}

// loadPlayer resolves the room and the caller's player in it.
func (s *Server) loadPlayer(c *gin.Context) (room.Snapshot, room.Player, bool) {
	session, ok := sessionID(c)
	if !ok {
		return room.Snapshot{}, room.Player{}, false
	}
	snap, ok := s.loadRoom(c)
	if !ok {
		return room.Snapshot{}, room.Player{}, false
	}
	player, err := s.rooms.PlayerBySession(c.Request.Context(), snap.Room.ID, session)
	if err != nil {
		s.writeRoomError(c, err)
		return room.Snapshot{}, room.Player{}, false
	}
	return snap, player, true
}
