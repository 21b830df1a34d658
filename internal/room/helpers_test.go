package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"party-play/internal/game"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testDefinition() *game.Definition {
	return &game.Definition{
		Title: "Test Night",
		Theme: game.Theme{Emoji: "🎉"},
		Rounds: []game.Round{
			{Title: "Name it", TimeLimit: 30, Kind: game.ChoiceVote{Prompt: "Name the ship"}},
			{Title: "Quick", TimeLimit: 20, Kind: game.SpeedAnswer{Question: "Capital of France?", Answer: "Paris"}},
			{Title: "Dodge", TimeLimit: 30, Kind: game.SandboxedCode{Code: "function init() PB.ready() end"}},
		},
	}
}

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()
	clock := newTestClock()
	logger := zerolog.Nop()
	svc := NewService(NewStore(), nil, Options{Now: clock.Now, Logger: &logger})
	return svc, clock
}

type testRoom struct {
	id      string
	code    string
	host    Player
	players []Player
}

// setupRoom creates a lobby with the host plus extra players.
func setupRoom(t *testing.T, svc *Service, extra ...string) testRoom {
	t.Helper()
	ctx := context.Background()
	snap, host, err := svc.CreateRoom(ctx, testDefinition(), Identity{SessionID: "session-host", Name: "Host", Emoji: "🦊"})
	require.NoError(t, err)
	room := testRoom{id: snap.Room.ID, code: snap.Room.Code, host: host, players: []Player{host}}
	for _, name := range extra {
		_, player, err := svc.Join(ctx, snap.Room.Code, Identity{SessionID: "session-" + name, Name: name})
		require.NoError(t, err)
		room.players = append(room.players, player)
	}
	return room
}

func startedRoom(t *testing.T, svc *Service) testRoom {
	t.Helper()
	room := setupRoom(t, svc, "Ada", "Bob")
	_, err := svc.StartGame(context.Background(), room.id, room.host.SessionID)
	require.NoError(t, err)
	return room
}

// advanceTo steps the room with the host's session until it reaches target.
func advanceTo(t *testing.T, svc *Service, room testRoom, target Position) Snapshot {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		snap, err := svc.Snapshot(ctx, room.id)
		require.NoError(t, err)
		if snap.Position() == target && snap.Room.Status == StatusPlaying {
			return snap
		}
		require.Equal(t, StatusPlaying, snap.Room.Status, "room finished before reaching %+v", target)
		_, err = svc.AdvancePhase(ctx, room.id, room.host.SessionID, nil)
		require.NoError(t, err)
	}
	t.Fatalf("never reached %+v", target)
	return Snapshot{}
}
