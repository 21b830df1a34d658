package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"party-play/internal/config"
	"party-play/internal/room"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	return ts
}

func newRooms() *room.Service {
	logger := zerolog.Nop()
	opts := room.DefaultOptions()
	opts.ReactionInterval = time.Millisecond
	opts.Logger = &logger
	return room.NewService(room.NewStore(), nil, opts)
}

// newTestApp serves a fresh in-memory room service.
func newTestApp(t *testing.T) (*httptest.Server, *room.Service) {
	t.Helper()
	rooms := newRooms()
	srv := New(rooms, nil, config.Default())
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts, rooms
}
