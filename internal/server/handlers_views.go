package server

import (
	"fmt"
	"net/http"

	"github.com/a-h/templ"
	"github.com/gin-gonic/gin"

	"party-play/internal/db"
	"party-play/internal/room"
	"party-play/internal/web"
)

func (s *Server) handleHome(c *gin.Context) {
	data := web.HomeData{}
	for _, snap := range s.rooms.ListRooms() {
		if snap.Room.Status == room.StatusFinished {
			continue
		}
		title := snap.Room.Code
		if snap.Game != nil {
			title = snap.Game.Title
		}
		data.Rooms = append(data.Rooms, web.RoomSummary{
			Code:    snap.Room.Code,
			Title:   title,
			Status:  string(snap.Room.Status),
			Players: len(snap.Players),
		})
	}
	games, err := db.ListGames(s.db)
	if err != nil {
		s.log.Warn().Err(err).Msg("list games failed")
	}
	for _, entry := range games {
		data.Games = append(data.Games, web.GameOption{ID: entry.ID, Title: entry.Title})
	}
	templ.Handler(web.Home(data)).ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleRoomView(c *gin.Context) {
	var uri codeURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	snap, err := s.rooms.RoomByCode(c.Request.Context(), uri.Code)
	if err != nil {
		s.log.Debug().Str("code", uri.Code).Err(err).Msg("room view missing room")
		c.Redirect(http.StatusFound, "/")
		return
	}
	templ.Handler(web.RoomPage(roomView(snap))).ServeHTTP(c.Writer, c.Request)
}

func roomView(snap room.Snapshot) web.RoomView {
	view := web.RoomView{
		Code:        snap.Room.Code,
		Status:      string(snap.Room.Status),
		Phase:       string(snap.Room.RoundPhase),
		RematchCode: snap.Room.RematchCode,
	}
	if snap.Game != nil {
		view.Title = snap.Game.Title
		view.Tagline = snap.Game.Tagline
		view.ThemeEmoji = snap.Game.Theme.Emoji
		view.AccentColor = snap.Game.Theme.AccentColor
		view.RoundLabel = fmt.Sprintf("Round %d of %d", snap.Room.CurrentRound+1, snap.Game.TotalRounds())
	}
	if round, ok := snap.CurrentRound(); ok {
		view.RoundTitle = round.Title
	}
	if snap.Room.RoundStartedAt != nil {
		view.PhaseStarted = *snap.Room.RoundStartedAt
	}
	for _, player := range snap.Players {
		view.Players = append(view.Players, web.RoomPlayer{
			Name:        player.Name,
			Emoji:       player.Emoji,
			Score:       player.Score,
			IsHost:      player.IsHost,
			IsConnected: player.IsConnected,
			IsSpectator: player.IsSpectator,
		})
	}
	return view
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": len(s.rooms.ListRooms())})
}
