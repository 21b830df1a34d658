package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"party-play/internal/game"
	"party-play/internal/health"
	"party-play/internal/room"
	"party-play/internal/sandbox"
)

const dodgeGame = `
local frames = 0
function init() PB.ready() end
function update(dt)
  frames = frames + 1
  PB.add_score(3)
  if frames >= 10 then PB.end_game() end
end
function draw()
  for i = 1, 4 do PB.circle(i, i, 2) end
end
`

func nopLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func fastHealth() health.Config {
	return health.Config{
		ReadyTimeout:  time.Second,
		CountdownStep: 5 * time.Millisecond,
		PollInterval:  20 * time.Millisecond,
		DeadAfter:     200 * time.Millisecond,
		Logger:        nopLogger(),
	}
}

func luaSandboxes() SandboxFactory {
	return SandboxFunc(func(ctx context.Context, code string) (health.Sandbox, error) {
		return sandbox.Launch(ctx, code, sandbox.RuntimeConfig{
			FrameInterval:     2 * time.Millisecond,
			HeartbeatInterval: 10 * time.Millisecond,
			Logger:            nopLogger(),
		}), nil
	})
}

func fastOptions() Options {
	return Options{
		Timings: Timings{
			Intro:  20 * time.Millisecond,
			Vote:   100 * time.Millisecond,
			Reveal: 20 * time.Millisecond,
			Grace:  20 * time.Millisecond,
		},
		LivenessInterval: 10 * time.Millisecond,
		Health:           fastHealth(),
		Logger:           nopLogger(),
	}
}

func newService(now func() time.Time) *room.Service {
	return room.NewService(room.NewStore(), nil, room.Options{Now: now, Logger: nopLogger()})
}

func partyDefinition() *game.Definition {
	zero := 0
	return &game.Definition{
		Title: "Bot Night",
		Theme: game.Theme{Emoji: "🤖", PrimaryColor: "#000"},
		Rounds: []game.Round{
			{Title: "Quick", TimeLimit: 1, Kind: game.SpeedAnswer{Question: "Pick", Choices: []string{"yes", "no"}, CorrectIndex: &zero}},
			{Title: "Dodge", TimeLimit: 1, Kind: game.SandboxedCode{Code: dodgeGame}},
			{Title: "Name it", TimeLimit: 1, Kind: game.ChoiceVote{Prompt: "Name the bot", Options: []string{"Zed", "Ivy"}}},
		},
	}
}

// runClient starts an orchestrator for player and returns a stop function
// that waits for it to exit.
func runClient(t *testing.T, local *Local, parts Components, opts Options) func() {
	t.Helper()
	feed, unsubscribe, err := local.Subscribe(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	orchestrator := New(local, feed, local.PlayerID, parts, opts)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = orchestrator.Run(ctx)
	}()
	return func() {
		cancel()
		unsubscribe()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("orchestrator did not stop")
		}
	}
}

func TestBotsPlayWholeGame(t *testing.T) {
	svc := newService(nil)
	ctx := context.Background()
	snap, host, err := svc.CreateRoom(ctx, partyDefinition(), room.Identity{SessionID: "s-host", Name: "Host"})
	require.NoError(t, err)
	hostAPI := &Local{Service: svc, RoomID: snap.Room.ID, SessionID: "s-host", PlayerID: host.ID}
	adaAPI, _, err := JoinLocal(ctx, svc, snap.Room.Code, room.Identity{SessionID: "s-ada", Name: "Ada"})
	require.NoError(t, err)

	parts := Components{Sandboxes: luaSandboxes(), Policy: Guesser{}}
	stopHost := runClient(t, hostAPI, parts, fastOptions())
	defer stopHost()
	stopAda := runClient(t, adaAPI, parts, fastOptions())
	defer stopAda()

	_, err = svc.StartGame(ctx, snap.Room.ID, "s-host")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := svc.Snapshot(ctx, snap.Room.ID)
		return err == nil && current.Room.Status == room.StatusFinished
	}, 15*time.Second, 20*time.Millisecond)

	for round := 0; round < 3; round++ {
		submissions, err := svc.SubmissionsByRound(ctx, snap.Room.ID, round)
		require.NoError(t, err)
		assert.Len(t, submissions, 2, "round %d", round)
	}
	games, err := svc.SubmissionsByRound(ctx, snap.Room.ID, 1)
	require.NoError(t, err)
	for _, submission := range games {
		assert.Equal(t, 30, game.ParseGameScore(submission.Content))
	}
	votes, err := svc.SubmissionsByRound(ctx, snap.Room.ID, 2)
	require.NoError(t, err)
	for _, submission := range votes {
		assert.Equal(t, 1, submission.Votes)
	}
}

func TestClientTakesOverSilentHost(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
	svc := newService(clock.Now)
	ctx := context.Background()
	snap, _, err := svc.CreateRoom(ctx, partyDefinition(), room.Identity{SessionID: "s-host", Name: "Host"})
	require.NoError(t, err)
	adaAPI, _, err := JoinLocal(ctx, svc, snap.Room.Code, room.Identity{SessionID: "s-ada", Name: "Ada"})
	require.NoError(t, err)
	_, err = svc.StartGame(ctx, snap.Room.ID, "s-host")
	require.NoError(t, err)

	opts := fastOptions()
	opts.Now = clock.Now
	opts.AutoFailover = true
	opts.Timings = Timings{Intro: time.Hour}
	stop := runClient(t, adaAPI, Components{}, opts)
	defer stop()

	time.Sleep(50 * time.Millisecond)
	current, err := svc.Snapshot(ctx, snap.Room.ID)
	require.NoError(t, err)
	hostPlayer, _ := current.Host()
	assert.Equal(t, "Host", hostPlayer.Name)

	clock.Advance(31 * time.Second)
	require.Eventually(t, func() bool {
		current, err := svc.Snapshot(ctx, snap.Room.ID)
		if err != nil {
			return false
		}
		hostPlayer, ok := current.Host()
		return ok && hostPlayer.ID == adaAPI.PlayerID
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPhaseChangeScoresInterruptedGame(t *testing.T) {
	svc := newService(nil)
	ctx := context.Background()
	def := &game.Definition{
		Title:  "One Game",
		Rounds: []game.Round{{Title: "Dodge", TimeLimit: 60, Kind: game.SandboxedCode{Code: "unused"}}},
	}
	snap, _, err := svc.CreateRoom(ctx, def, room.Identity{SessionID: "s-host", Name: "Host"})
	require.NoError(t, err)
	adaAPI, _, err := JoinLocal(ctx, svc, snap.Room.Code, room.Identity{SessionID: "s-ada", Name: "Ada"})
	require.NoError(t, err)

	children := make(chan *sandbox.Conn, 1)
	factory := SandboxFunc(func(ctx context.Context, code string) (health.Sandbox, error) {
		parent, child := sandbox.Pipe()
		children <- child
		return parent, nil
	})
	var mu sync.Mutex
	var events []health.Event
	opts := fastOptions()
	opts.Health.DeadAfter = time.Minute
	opts.Observer = health.ObserverFunc(func(e health.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	stop := runClient(t, adaAPI, Components{Sandboxes: factory}, opts)
	defer stop()

	_, err = svc.StartGame(ctx, snap.Room.ID, "s-host")
	require.NoError(t, err)
	_, err = svc.AdvancePhase(ctx, snap.Room.ID, "s-host", nil)
	require.NoError(t, err)

	var child *sandbox.Conn
	select {
	case child = <-children:
	case <-time.After(3 * time.Second):
		t.Fatal("sandbox never opened")
	}
	defer child.Close()
	require.NoError(t, child.Send(ctx, sandbox.Ready()))
	require.NoError(t, child.Send(ctx, sandbox.ScoreUpdate(40)))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0 && events[len(events)-1].State == health.StatePlaying
	}, 3*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, err = svc.AdvancePhase(ctx, snap.Room.ID, "s-host", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		submissions, err := svc.SubmissionsByRound(ctx, snap.Room.ID, 0)
		return err == nil && len(submissions) == 1
	}, 3*time.Second, 10*time.Millisecond)
	submissions, err := svc.SubmissionsByRound(ctx, snap.Room.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, adaAPI.PlayerID, submissions[0].PlayerID)
	assert.Equal(t, 40, game.ParseGameScore(submissions[0].Content))
}

func TestFinishedRoomReportsRematchOnce(t *testing.T) {
	svc := newService(nil)
	ctx := context.Background()
	def := &game.Definition{Title: "Short", Rounds: []game.Round{{Title: "Q", Kind: game.ChoiceVote{Prompt: "?"}}}}
	snap, host, err := svc.CreateRoom(ctx, def, room.Identity{SessionID: "s-host", Name: "Host"})
	require.NoError(t, err)
	adaAPI, _, err := JoinLocal(ctx, svc, snap.Room.Code, room.Identity{SessionID: "s-ada", Name: "Ada"})
	require.NoError(t, err)

	codes := make(chan string, 4)
	opts := fastOptions()
	opts.Timings = Timings{Intro: time.Hour}
	opts.OnRematch = func(code string) { codes <- code }
	stop := runClient(t, adaAPI, Components{}, opts)
	defer stop()

	_, err = svc.StartGame(ctx, snap.Room.ID, "s-host")
	require.NoError(t, err)
	for {
		current, err := svc.AdvancePhase(ctx, snap.Room.ID, "s-host", nil)
		require.NoError(t, err)
		if current.Room.Status == room.StatusFinished {
			break
		}
	}
	next, _, err := svc.Rematch(ctx, snap.Room.ID, room.Identity{SessionID: "s-host", Name: host.Name})
	require.NoError(t, err)
	require.NoError(t, svc.Heartbeat(ctx, snap.Room.ID, "s-host"))

	select {
	case code := <-codes:
		assert.Equal(t, next.Room.Code, code)
	case <-time.After(3 * time.Second):
		t.Fatal("rematch was not reported")
	}
	select {
	case code := <-codes:
		t.Fatalf("rematch reported twice: %s", code)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimingsPerPhase(t *testing.T) {
	timings := DefaultTimings()
	round := game.Round{TimeLimit: 45, Kind: game.SpeedAnswer{}}
	assert.Equal(t, 5500*time.Millisecond, timings.phase(room.PhaseIntro, round))
	assert.Equal(t, 46500*time.Millisecond, timings.phase(room.PhaseSubmit, round))
	assert.Equal(t, 21500*time.Millisecond, timings.phase(room.PhaseVote, round))
	assert.Equal(t, 6500*time.Millisecond, timings.phase(room.PhaseReveal, round))
	assert.Equal(t, 1500*time.Millisecond, timings.phase(room.PhaseScores, round))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// chaserScene reports its avatar until it has seen another player's, then
// scores how many avatars it saw.
type chaserScene struct {
	x float64
}

func (s chaserScene) Play(ctx context.Context, _ game.Round, _ game.NativeScene, peers ScenePeers) (int, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		peers.Report(s.x, 10, 1, 0, "run")
		if others := peers.Positions(); len(others) > 0 {
			return 10 * len(others), nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func TestScenePlayersSeeEachOther(t *testing.T) {
	svc := newService(nil)
	ctx := context.Background()
	def := &game.Definition{
		Title:  "Chase",
		Rounds: []game.Round{{Title: "Tag", TimeLimit: 2, Kind: game.NativeScene{SceneType: "chase"}}},
	}
	snap, host, err := svc.CreateRoom(ctx, def, room.Identity{SessionID: "s-host", Name: "Host"})
	require.NoError(t, err)
	hostAPI := &Local{Service: svc, RoomID: snap.Room.ID, SessionID: "s-host", PlayerID: host.ID}
	adaAPI, _, err := JoinLocal(ctx, svc, snap.Room.Code, room.Identity{SessionID: "s-ada", Name: "Ada"})
	require.NoError(t, err)

	stopHost := runClient(t, hostAPI, Components{Scenes: chaserScene{x: 1}}, fastOptions())
	defer stopHost()
	stopAda := runClient(t, adaAPI, Components{Scenes: chaserScene{x: 2}}, fastOptions())
	defer stopAda()

	_, err = svc.StartGame(ctx, snap.Room.ID, "s-host")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		submissions, err := svc.SubmissionsByRound(ctx, snap.Room.ID, 0)
		return err == nil && len(submissions) == 2
	}, 5*time.Second, 10*time.Millisecond)

	submissions, err := svc.SubmissionsByRound(ctx, snap.Room.ID, 0)
	require.NoError(t, err)
	for _, submission := range submissions {
		assert.Equal(t, 10, game.ParseGameScore(submission.Content), submission.PlayerName)
	}
}

func TestScenePeersThrottleReports(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
	api := &countingAPI{}
	o := New(api, ChanFeed(nil), "p1", Components{}, Options{Now: clock.Now, Logger: nopLogger()})
	peers := newScenePeers(context.Background(), o, 0)

	peers.Report(1, 1, 0, 0, "run")
	o.wg.Wait()
	peers.Report(2, 2, 0, 0, "run")
	o.wg.Wait()
	clock.Advance(PositionInterval)
	peers.Report(3, 3, 0, 0, "run")
	o.wg.Wait()

	assert.Equal(t, []float64{1, 3}, api.xs())

	peers.see(room.Snapshot{
		Room: room.Room{CurrentRound: 0},
		Positions: []room.PlayerPosition{
			{PlayerID: "p1", Round: 0, X: 3},
			{PlayerID: "p2", Round: 0, X: 9},
		},
	})
	others := peers.Positions()
	require.Len(t, others, 1)
	assert.Equal(t, "p2", others[0].PlayerID)

	peers.see(room.Snapshot{Room: room.Room{CurrentRound: 1}})
	assert.Len(t, peers.Positions(), 1)
}

type countingAPI struct {
	mu      sync.Mutex
	updates []room.PositionUpdate
}

func (a *countingAPI) Heartbeat(context.Context) error                   { return nil }
func (a *countingAPI) AdvancePhase(context.Context, room.Position) error { return nil }
func (a *countingAPI) TransferHost(context.Context) error                { return nil }
func (a *countingAPI) SubmitScore(context.Context, int, string, room.SubmissionType) error {
	return nil
}
func (a *countingAPI) Vote(context.Context, string, int) error { return nil }

func (a *countingAPI) UpdatePosition(_ context.Context, update room.PositionUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates = append(a.updates, update)
	return nil
}

func (a *countingAPI) xs() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, 0, len(a.updates))
	for _, update := range a.updates {
		out = append(out, update.X)
	}
	return out
}
