package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"party-play/internal/config"
	"party-play/internal/room"
)

const sessionHeader = "X-Session-ID"

type Server struct {
	rooms   *room.Service
	db      *gorm.DB
	ws      *wsHub
	cfg     config.Config
	limiter *rateLimiter
	log     zerolog.Logger
}

// New builds the HTTP front of rooms. conn may be nil, in which case the
// game library is empty and rooms are created from posted definitions only.
func New(rooms *room.Service, conn *gorm.DB, cfg config.Config) *Server {
	registerValidators()
	return &Server{
		rooms:   rooms,
		db:      conn,
		ws:      newWSHub(),
		cfg:     cfg,
		limiter: newRateLimiter(cfg.CreateRatePerMinute),
		log:     log.With().Str("component", "server").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  s.cfg.AllowedOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Origin", sessionHeader},
		ExposeHeaders: []string{"Content-Length"},
	}))

	r.GET("/", s.handleHome)
	r.GET("/healthz", s.handleHealth)
	r.GET("/rooms/:code", s.handleRoomView)
	r.Static("/static", "static")

	api := r.Group("/api/rooms")
	api.POST("", s.handleCreateRoom)
	api.GET("/:code", s.handleGetRoom)
	api.POST("/:code/join", s.handleJoin)
	api.POST("/:code/start", s.handleStart)
	api.POST("/:code/advance", s.handleAdvance)
	api.POST("/:code/transfer-host", s.handleTransferHost)
	api.POST("/:code/heartbeat", s.handleHeartbeat)
	api.POST("/:code/submissions", s.handleSubmit)
	api.GET("/:code/submissions", s.handleListSubmissions)
	api.POST("/:code/votes", s.handleVote)
	api.GET("/:code/votes", s.handleListVotes)
	api.POST("/:code/tally", s.handleTally)
	api.POST("/:code/positions", s.handleUpdatePosition)
	api.GET("/:code/positions", s.handleListPositions)
	api.POST("/:code/reactions", s.handleReaction)
	api.POST("/:code/rematch", s.handleRematch)

	r.GET("/ws/rooms/:code", s.handleWebsocket)
	return r
}

// Close drops every websocket connection.
func (s *Server) Close() {
	s.ws.CloseAll()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		event := s.log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.log.Warn()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Msg("request")
	}
}
