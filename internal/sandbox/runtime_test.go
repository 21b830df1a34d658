package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"party-play/internal/game"
)

func testRuntimeConfig() RuntimeConfig {
	logger := zerolog.Nop()
	return RuntimeConfig{
		FrameInterval:     2 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		MaxErrors:         5,
		Logger:            &logger,
	}
}

// waitFor reads messages until one of the wanted type arrives.
func waitFor(t *testing.T, conn *Conn, want Type) Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg, ok := <-conn.Messages():
			require.True(t, ok, "sandbox closed before %s", want)
			if msg.Type == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func scoreOf(t *testing.T, msg Message) int {
	t.Helper()
	var payload ScorePayload
	_, err := msg.Decode(&payload)
	require.NoError(t, err)
	return payload.Score
}

const countingGame = `
local frames = 0
function init()
  PB.ready()
end
function start()
  PB.set_score(#PB.player.name)
end
function update(dt)
  frames = frames + 1
  if frames >= 20 then
    PB.end_game(PB.score() + 100)
  end
end
function draw()
  for i = 1, 5 do PB.rect(0, 0, 10, 10, "#fff") end
end
`

func TestRuntimeRunsGameToCompletion(t *testing.T) {
	session := Launch(context.Background(), countingGame, testRuntimeConfig())
	defer session.Close()
	ctx := context.Background()

	waitFor(t, session.Conn, TypeReady)
	require.NoError(t, session.Send(ctx, Init(InitPayload{Player: PlayerInfo{ID: "p1", Name: "Ada"}})))
	require.NoError(t, session.Send(ctx, Start()))

	update := waitFor(t, session.Conn, TypeScoreUpdate)
	assert.Equal(t, 3, scoreOf(t, update))
	complete := waitFor(t, session.Conn, TypeComplete)
	assert.Equal(t, 103, scoreOf(t, complete))

	require.NoError(t, session.Send(ctx, End()))
	assert.NoError(t, session.Wait())
}

const hugeScoreGame = `
function init() PB.ready() end
function start()
  PB.set_score(math.huge)
  PB.add_score(1e300)
  PB.end_game(2^63)
end
`

func TestRuntimeClampsHugeScores(t *testing.T) {
	session := Launch(context.Background(), hugeScoreGame, testRuntimeConfig())
	defer session.Close()
	ctx := context.Background()

	waitFor(t, session.Conn, TypeReady)
	require.NoError(t, session.Send(ctx, Init(InitPayload{Player: PlayerInfo{ID: "p1", Name: "Ada"}})))
	require.NoError(t, session.Send(ctx, Start()))

	complete := waitFor(t, session.Conn, TypeComplete)
	assert.Equal(t, game.MaxScore, scoreOf(t, complete))
}

func TestRuntimeHeartbeatReportsDrawCalls(t *testing.T) {
	code := `
function init() PB.ready() end
function update(dt) end
function draw()
  PB.rect(0, 0, 1, 1)
  PB.circle(0, 0, 1)
  PB.text("hi", 0, 0)
  PB.sprite("ship", 0, 0)
end
`
	session := Launch(context.Background(), code, testRuntimeConfig())
	defer session.Close()

	waitFor(t, session.Conn, TypeReady)
	require.NoError(t, session.Send(context.Background(), Start()))
	msg := waitFor(t, session.Conn, TypeHeartbeat)
	var payload HeartbeatPayload
	_, err := msg.Decode(&payload)
	require.NoError(t, err)
	assert.Positive(t, payload.FrameCount)
	assert.InDelta(t, 4.0, payload.DrawCallsPerFrame, 0.001)
	assert.Zero(t, payload.ErrorCount)
}

func TestRuntimeHidesUnsafeGlobals(t *testing.T) {
	code := `
function init()
  assert(io == nil, "io")
  assert(os == nil, "os")
  assert(package == nil, "package")
  assert(debug == nil, "debug")
  assert(load == nil and loadstring == nil and dofile == nil, "loaders")
  assert(require == nil, "require")
  assert(xpcall == nil, "xpcall")
  local ok, err = pcall(error, "caught")
  assert(not ok and err == "caught", "pcall")
  local ok2, value = pcall(function(a, b) return a + b end, 2, 3)
  assert(ok2 and value == 5, "pcall results")
  assert(string.format("%d", 3) == "3", "string")
  assert(math.floor(2.5) == 2, "math")
  assert(bit32.band(6, 3) == 2, "bit32")
  PB.ready()
end
`
	session := Launch(context.Background(), code, testRuntimeConfig())
	defer session.Close()
	waitFor(t, session.Conn, TypeReady)
}

func TestRuntimeFifthErrorIsFatal(t *testing.T) {
	code := `
function init() PB.ready() end
function update(dt) error("kaboom") end
function draw() end
`
	session := Launch(context.Background(), code, testRuntimeConfig())
	defer session.Close()

	waitFor(t, session.Conn, TypeReady)
	require.NoError(t, session.Send(context.Background(), Start()))

	for i := 1; i <= 5; i++ {
		msg := waitFor(t, session.Conn, TypeError)
		var payload ErrorPayload
		_, err := msg.Decode(&payload)
		require.NoError(t, err)
		assert.Contains(t, payload.Message, "kaboom")
		assert.Equal(t, i == 5, payload.Fatal, "error %d", i)
	}
	assert.Error(t, session.Wait())
}

func TestRuntimeSyntaxErrorIsFatal(t *testing.T) {
	session := Launch(context.Background(), "function init( PB.ready() end", testRuntimeConfig())
	defer session.Close()

	msg := waitFor(t, session.Conn, TypeError)
	var payload ErrorPayload
	_, err := msg.Decode(&payload)
	require.NoError(t, err)
	assert.True(t, payload.Fatal)
	assert.Error(t, session.Wait())
}

func TestRuntimeCancelStopsRunawayScript(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	session := Launch(ctx, "function init() while true do end end", testRuntimeConfig())

	time.Sleep(20 * time.Millisecond)
	cancel()

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("runaway script was not interrupted")
	}
}

func TestRuntimeCancelEscapesPcall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	session := Launch(ctx, "function init() while true do pcall(function() while true do end end) end end", testRuntimeConfig())

	time.Sleep(20 * time.Millisecond)
	cancel()

	closed := make(chan error, 1)
	go func() { closed <- session.Close() }()
	select {
	case err := <-closed:
		assert.NotErrorIs(t, err, ErrStopTimeout)
	case <-time.After(3 * time.Second):
		t.Fatal("close did not return")
	}
	assert.ErrorIs(t, session.Wait(), context.Canceled)
}

func TestRuntimeVisibilityPausesUpdates(t *testing.T) {
	code := `
local ticks = 0
function init() PB.ready() end
function update(dt)
  ticks = ticks + 1
  PB.set_score(ticks)
end
function draw()
  if PB.paused() then PB.text("paused", 0, 0) end
end
`
	session := Launch(context.Background(), code, testRuntimeConfig())
	defer session.Close()
	ctx := context.Background()

	waitFor(t, session.Conn, TypeReady)
	require.NoError(t, session.Send(ctx, Start()))
	waitFor(t, session.Conn, TypeScoreUpdate)
	require.NoError(t, session.Send(ctx, Visibility(true)))

	// Drain what was in flight, then make sure scores stop moving.
	time.Sleep(30 * time.Millisecond)
	for drained := false; !drained; {
		select {
		case <-session.Messages():
		default:
			drained = true
		}
	}
	deadline := time.After(60 * time.Millisecond)
	for {
		select {
		case msg := <-session.Messages():
			assert.NotEqual(t, TypeScoreUpdate, msg.Type)
		case <-deadline:
			return
		}
	}
}
