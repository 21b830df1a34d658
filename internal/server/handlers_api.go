package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"party-play/internal/game"
	"party-play/internal/room"
)

type createRoomRequest struct {
	Game   *game.Definition `json:"game"`
	GameID string           `json:"gameId"`
	Name   string           `json:"name" binding:"required,name"`
	Emoji  string           `json:"emoji" binding:"emoji"`
}

type joinRequest struct {
	Name  string `json:"name" binding:"required,name"`
	Emoji string `json:"emoji" binding:"emoji"`
}

type advanceRequest struct {
	Expect *room.Position `json:"expect"`
}

type submitRequest struct {
	Round   *int                `json:"round" binding:"required,min=0"`
	Content string              `json:"content" binding:"max=4000"`
	Type    room.SubmissionType `json:"type"`
}

type submissionsQuery struct {
	Round *int `form:"round" binding:"omitempty,min=0"`
}

type voteRequest struct {
	SubmissionID string `json:"submissionId" binding:"required"`
	Round        *int   `json:"round" binding:"required,min=0"`
}

type votesQuery struct {
	Round    *int   `form:"round" binding:"omitempty,min=0"`
	PlayerID string `form:"playerId"`
}

type tallyRequest struct {
	Round *int `json:"round" binding:"required,min=0"`
}

type positionRequest struct {
	Round     *int    `json:"round" binding:"required,min=0"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	VelocityX float64 `json:"velocityX"`
	VelocityY float64 `json:"velocityY"`
	Animation string  `json:"animation"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" binding:"required,emoji"`
}

// joinResponse is returned by every call that places the caller in a room.
type joinResponse struct {
	Snapshot room.Snapshot `json:"snapshot"`
	Player   room.Player   `json:"player"`
}

var nameMessages = bindMessages{
	"Name": {
		"required": "name is required",
		"name":     "name must be 20 letters, digits or simple punctuation",
	},
	"Emoji": {"emoji": "emoji is too long"},
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	session, ok := sessionID(c)
	if !ok {
		return
	}
	if !s.limiter.Allow("create:"+c.ClientIP(), time.Now()) {
		s.writeRoomError(c, room.ErrRateLimited)
		return
	}
	var req createRoomRequest
	if !bindJSON(c, &req, nameMessages, "invalid room request") {
		return
	}
	name, _ := validateName(req.Name)
	host := room.Identity{SessionID: session, Name: name, Emoji: strings.TrimSpace(req.Emoji)}

	var (
		snap   room.Snapshot
		player room.Player
		err    error
	)
	switch {
	case req.Game != nil && req.GameID == "":
		snap, player, err = s.rooms.CreateRoom(c.Request.Context(), req.Game, host)
	case req.Game == nil && req.GameID != "":
		snap, player, err = s.rooms.CreateRoomFromLibrary(c.Request.Context(), req.GameID, host)
	default:
		writeError(c, http.StatusBadRequest, "send either game or gameId")
		return
	}
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusCreated, joinResponse{Snapshot: snap, Player: player})
}

func (s *Server) handleGetRoom(c *gin.Context) {
	snap, ok := s.loadRoom(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleJoin(c *gin.Context) {
	session, ok := sessionID(c)
	if !ok {
		return
	}
	var uri codeURI
	if !bindURI(c, &uri) {
		return
	}
	if !s.limiter.Allow("join:"+c.ClientIP(), time.Now()) {
		s.writeRoomError(c, room.ErrRateLimited)
		return
	}
	var req joinRequest
	if !bindJSON(c, &req, nameMessages, "invalid join request") {
		return
	}
	name, _ := validateName(req.Name)
	snap, player, err := s.rooms.Join(c.Request.Context(), uri.Code, room.Identity{
		SessionID: session,
		Name:      name,
		Emoji:     strings.TrimSpace(req.Emoji),
	})
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, joinResponse{Snapshot: snap, Player: player})
}

func (s *Server) handleStart(c *gin.Context) {
	session, ok := sessionID(c)
	if !ok {
		return
	}
	current, ok := s.loadRoom(c)
	if !ok {
		return
	}
	snap, err := s.rooms.StartGame(c.Request.Context(), current.Room.ID, session)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleAdvance(c *gin.Context) {
	session, ok := sessionID(c)
	if !ok {
		return
	}
	current, ok := s.loadRoom(c)
	if !ok {
		return
	}
	var req advanceRequest
	if !bindOptionalJSON(c, &req, nil, "invalid advance request") {
		return
	}
	snap, err := s.rooms.AdvancePhase(c.Request.Context(), current.Room.ID, session, req.Expect)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleTransferHost(c *gin.Context) {
	session, ok := sessionID(c)
	if !ok {
		return
	}
	current, ok := s.loadRoom(c)
	if !ok {
		return
	}
	snap, err := s.rooms.TransferHost(c.Request.Context(), current.Room.ID, session)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	session, ok := sessionID(c)
	if !ok {
		return
	}
	current, ok := s.loadRoom(c)
	if !ok {
		return
	}
	if err := s.rooms.Heartbeat(c.Request.Context(), current.Room.ID, session); err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSubmit(c *gin.Context) {
	snap, player, ok := s.loadPlayer(c)
	if !ok {
		return
	}
	var req submitRequest
	if !bindJSON(c, &req, bindMessages{"Round": {"required": "round is required"}}, "invalid submission") {
		return
	}
	submission, err := s.rooms.SubmitScore(c.Request.Context(), snap.Room.ID, player.ID, *req.Round, req.Content, req.Type)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusCreated, submission)
}

func (s *Server) handleListSubmissions(c *gin.Context) {
	snap, ok := s.loadRoom(c)
	if !ok {
		return
	}
	var query submissionsQuery
	if !bindQuery(c, &query) {
		return
	}
	round := snap.Room.CurrentRound
	if query.Round != nil {
		round = *query.Round
	}
	submissions, err := s.rooms.SubmissionsByRound(c.Request.Context(), snap.Room.ID, round)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round, "submissions": submissions})
}

func (s *Server) handleVote(c *gin.Context) {
	snap, player, ok := s.loadPlayer(c)
	if !ok {
		return
	}
	var req voteRequest
	if !bindJSON(c, &req, nil, "invalid vote") {
		return
	}
	vote, err := s.rooms.Vote(c.Request.Context(), snap.Room.ID, player.ID, req.SubmissionID, *req.Round)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusCreated, vote)
}

// handleListVotes lists a round's votes, or only the named player's vote.
func (s *Server) handleListVotes(c *gin.Context) {
	snap, ok := s.loadRoom(c)
	if !ok {
		return
	}
	var query votesQuery
	if !bindQuery(c, &query) {
		return
	}
	round := snap.Room.CurrentRound
	if query.Round != nil {
		round = *query.Round
	}
	ctx := c.Request.Context()
	if query.PlayerID != "" {
		vote, found, err := s.rooms.PlayerVote(ctx, snap.Room.ID, query.PlayerID, round)
		if err != nil {
			s.writeRoomError(c, err)
			return
		}
		votes := []room.Vote{}
		if found {
			votes = append(votes, vote)
		}
		c.JSON(http.StatusOK, gin.H{"round": round, "votes": votes})
		return
	}
	votes, err := s.rooms.VotesByRound(ctx, snap.Room.ID, round)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round, "votes": votes})
}

func (s *Server) handleTally(c *gin.Context) {
	session, ok := sessionID(c)
	if !ok {
		return
	}
	current, ok := s.loadRoom(c)
	if !ok {
		return
	}
	var req tallyRequest
	if !bindJSON(c, &req, bindMessages{"Round": {"required": "round is required"}}, "invalid tally") {
		return
	}
	tally, err := s.rooms.TallyMajority(c.Request.Context(), current.Room.ID, session, *req.Round)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, tally)
}

// handleUpdatePosition accepts an avatar report. Clients send these several
// times a second and do not wait on the reply.
func (s *Server) handleUpdatePosition(c *gin.Context) {
	snap, player, ok := s.loadPlayer(c)
	if !ok {
		return
	}
	var req positionRequest
	if !bindJSON(c, &req, bindMessages{"Round": {"required": "round is required"}}, "invalid position") {
		return
	}
	err := s.rooms.UpdatePosition(c.Request.Context(), snap.Room.ID, player.ID, room.PositionUpdate{
		Round:     *req.Round,
		X:         req.X,
		Y:         req.Y,
		VelocityX: req.VelocityX,
		VelocityY: req.VelocityY,
		Animation: req.Animation,
	})
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListPositions(c *gin.Context) {
	snap, ok := s.loadRoom(c)
	if !ok {
		return
	}
	var query submissionsQuery
	if !bindQuery(c, &query) {
		return
	}
	round := snap.Room.CurrentRound
	if query.Round != nil {
		round = *query.Round
	}
	positions, err := s.rooms.Positions(c.Request.Context(), snap.Room.ID, round)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round, "positions": positions})
}

func (s *Server) handleReaction(c *gin.Context) {
	snap, player, ok := s.loadPlayer(c)
	if !ok {
		return
	}
	var req reactionRequest
	if !bindJSON(c, &req, bindMessages{"Emoji": {"required": "emoji is required", "emoji": "emoji is too long"}}, "invalid reaction") {
		return
	}
	reaction, err := s.rooms.SendReaction(c.Request.Context(), snap.Room.ID, player.ID, strings.TrimSpace(req.Emoji))
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reaction)
}

func (s *Server) handleRematch(c *gin.Context) {
	session, ok := sessionID(c)
	if !ok {
		return
	}
	current, ok := s.loadRoom(c)
	if !ok {
		return
	}
	identity := room.Identity{SessionID: session}
	var req joinRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req, nameMessages, "invalid rematch request") {
			return
		}
		identity.Name, _ = validateName(req.Name)
		identity.Emoji = strings.TrimSpace(req.Emoji)
	} else {
		player, err := s.rooms.PlayerBySession(c.Request.Context(), current.Room.ID, session)
		if err != nil {
			s.writeRoomError(c, err)
			return
		}
		identity.Name, identity.Emoji = player.Name, player.Emoji
	}
	snap, player, err := s.rooms.Rematch(c.Request.Context(), current.Room.ID, identity)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusCreated, joinResponse{Snapshot: snap, Player: player})
}
