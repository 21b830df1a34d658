package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"party-play/internal/game"
	"party-play/internal/health"
	"party-play/internal/room"
	"party-play/internal/sandbox"
)

// Orchestrator runs one player's side of a room. All state below the
// generation counter is owned by the Run goroutine.
type Orchestrator struct {
	api       API
	feed      Feed
	playerID  string
	sandboxes SandboxFactory
	policy    Policy
	scenes    ScenePlayer
	opts      Options
	log       zerolog.Logger
	now       func() time.Time

	// gen identifies the current (round, phase). Work started for an
	// older generation is discarded.
	gen atomic.Uint64
	wg  sync.WaitGroup

	snap        room.Snapshot
	haveSnap    bool
	monitor     *health.Monitor
	phaseCancel context.CancelFunc
	rematch     string
	peers       *scenePeers

	advanceTimer *time.Timer
	advanceC     <-chan time.Time
	advanceFor   room.Position
	armedHost    bool
}

// Components are the optional pieces a player brings. A nil component skips
// the rounds that need it.
type Components struct {
	Sandboxes SandboxFactory
	Policy    Policy
	Scenes    ScenePlayer
}

func New(api API, feed Feed, playerID string, parts Components, opts Options) *Orchestrator {
	defaults := DefaultOptions()
	if opts.Timings == (Timings{}) {
		opts.Timings = defaults.Timings
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = defaults.LivenessInterval
	}
	if opts.HostTimeout <= 0 {
		opts.HostTimeout = defaults.HostTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Health.Logger == nil {
		opts.Health.Logger = &logger
	}
	return &Orchestrator{
		api:       api,
		feed:      feed,
		playerID:  playerID,
		sandboxes: parts.Sandboxes,
		policy:    parts.Policy,
		scenes:    parts.Scenes,
		opts:      opts,
		log:       logger.With().Str("component", "client").Str("player_id", playerID).Logger(),
		now:       now,
	}
}

// Run processes snapshots until ctx is cancelled or the feed ends. On return
// the current round's monitor has been closed and every in-flight call has
// finished.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer o.wg.Wait()
	defer cancel()
	defer o.stopAdvance()
	defer o.teardown()

	heartbeats := time.NewTicker(o.opts.HeartbeatInterval)
	defer heartbeats.Stop()
	liveness := time.NewTicker(o.opts.LivenessInterval)
	defer liveness.Stop()
	snapshots := o.feed.Snapshots()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			first := !o.haveSnap
			o.apply(ctx, snap)
			if first {
				o.heartbeat(ctx)
			}
		case <-heartbeats.C:
			o.heartbeat(ctx)
		case <-liveness.C:
			o.checkHost(ctx)
		case <-o.advanceC:
			o.advance(ctx)
		}
	}
}

// Generation returns the current phase generation.
func (o *Orchestrator) Generation() uint64 {
	return o.gen.Load()
}

func (o *Orchestrator) apply(ctx context.Context, snap room.Snapshot) {
	prev, had := o.snap, o.haveSnap
	o.snap, o.haveSnap = snap, true
	self, inRoom := snap.Player(o.playerID)

	if snap.Room.Status != room.StatusPlaying {
		o.teardown()
		o.stopAdvance()
		if code := snap.Room.RematchCode; snap.Room.Status == room.StatusFinished && code != "" && code != o.rematch {
			o.rematch = code
			o.log.Info().Str("code", code).Msg("rematch available")
			if o.opts.OnRematch != nil {
				o.opts.OnRematch(code)
			}
		}
		return
	}

	pos := snap.Position()
	changed := !had || prev.Room.Status != room.StatusPlaying || prev.Position() != pos
	if changed {
		o.teardown()
		o.enter(ctx, snap, self, inRoom)
	} else if o.peers != nil {
		o.peers.see(snap)
	}
	isHost := inRoom && self.IsHost
	if changed || isHost != o.armedHost {
		o.armAdvance(snap, isHost)
	}
}

// enter starts whatever this player does in the new phase.
func (o *Orchestrator) enter(ctx context.Context, snap room.Snapshot, self room.Player, inRoom bool) {
	gen := o.gen.Add(1)
	phaseCtx, cancel := context.WithCancel(ctx)
	o.phaseCancel = cancel

	pos := snap.Position()
	round, ok := snap.CurrentRound()
	if !ok || !inRoom {
		return
	}
	o.log.Debug().Int("round", pos.Round).Str("phase", string(pos.Phase)).Uint64("generation", gen).Msg("phase entered")

	switch pos.Phase {
	case room.PhaseSubmit:
		if self.IsSpectator || snap.HasSubmitted(self.ID, pos.Round) {
			return
		}
		switch kind := round.Kind.(type) {
		case game.SandboxedCode:
			o.playSandbox(phaseCtx, gen, snap, self, round, kind)
		case game.NativeScene:
			o.playScene(phaseCtx, gen, pos.Round, round, kind)
		case game.ChoiceVote, game.SpeedAnswer:
			o.answer(ctx, pos.Round, round)
		}
	case room.PhaseVote:
		if o.policy == nil {
			return
		}
		submissionID, ok := o.policy.Vote(snap, self.ID)
		if !ok {
			return
		}
		o.async(ctx, "vote", func(ctx context.Context) error {
			return o.api.Vote(ctx, submissionID, pos.Round)
		})
	}
}

func (o *Orchestrator) playSandbox(ctx context.Context, gen uint64, snap room.Snapshot, self room.Player, round game.Round, kind game.SandboxedCode) {
	if o.sandboxes == nil {
		return
	}
	index := snap.Room.CurrentRound
	box, err := o.sandboxes.Open(ctx, kind.Code)
	if err != nil {
		o.log.Warn().Err(err).Int("round", index).Msg("sandbox failed to open")
		return
	}
	startedAt := o.now()
	if snap.Room.RoundStartedAt != nil {
		startedAt = *snap.Room.RoundStartedAt
	}
	seat := playerIndex(snap.Players, self.ID)
	payload := sandbox.InitPayload{
		Player: sandbox.PlayerInfo{
			ID:    self.ID,
			Name:  self.Name,
			Emoji: self.Emoji,
			Index: seat,
			Color: room.SeatColor(seat),
		},
		Config: sandbox.RoundConfig{TimeLimit: round.Limit(), Difficulty: kind.Difficulty, Theme: kind.Theme},
	}
	if snap.Game != nil {
		payload.Theme = snap.Game.Theme
	}
	submit := func(ctx context.Context, score int) error {
		return o.api.SubmitScore(ctx, index, game.GameScoreContent(score), room.SubmissionText)
	}
	monitor := health.New(gen, box, health.Round{
		Index:     index,
		TimeLimit: time.Duration(round.Limit()) * time.Second,
		StartedAt: startedAt,
		Init:      payload,
	}, submit, health.ObserverFunc(o.observe), o.opts.Health)
	monitor.Start(ctx)
	o.monitor = monitor
}

func (o *Orchestrator) playScene(ctx context.Context, gen uint64, index int, round game.Round, scene game.NativeScene) {
	if o.scenes == nil {
		return
	}
	peers := newScenePeers(ctx, o, index)
	o.peers = peers
	peers.see(o.snap)
	o.async(ctx, "scene", func(ctx context.Context) error {
		score, err := o.scenes.Play(ctx, round, scene, peers)
		if err != nil {
			return err
		}
		if o.gen.Load() != gen {
			return nil
		}
		return o.api.SubmitScore(context.WithoutCancel(ctx), index, game.GameScoreContent(score), room.SubmissionText)
	})
}

func (o *Orchestrator) answer(ctx context.Context, index int, round game.Round) {
	if o.policy == nil {
		return
	}
	content, kind, ok := o.policy.Answer(round)
	if !ok {
		return
	}
	o.async(ctx, "submit", func(ctx context.Context) error {
		return o.api.SubmitScore(ctx, index, content, kind)
	})
}

// observe forwards health events of the current generation only.
func (o *Orchestrator) observe(event health.Event) {
	if event.Generation != o.gen.Load() || o.opts.Observer == nil {
		return
	}
	o.opts.Observer.HealthEvent(event)
}

// teardown closes the current round's monitor. Closing submits the last
// score when play had started, so it runs off the loop.
func (o *Orchestrator) teardown() {
	if monitor := o.monitor; monitor != nil {
		o.monitor = nil
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			monitor.Close()
		}()
	}
	o.peers = nil
	if o.phaseCancel != nil {
		o.phaseCancel()
		o.phaseCancel = nil
	}
}

func (o *Orchestrator) armAdvance(snap room.Snapshot, isHost bool) {
	o.stopAdvance()
	o.armedHost = isHost
	if !isHost || snap.Room.RoundStartedAt == nil {
		return
	}
	round, ok := snap.CurrentRound()
	if !ok {
		return
	}
	pos := snap.Position()
	deadline := snap.Room.RoundStartedAt.Add(o.opts.Timings.phase(pos.Phase, round))
	o.startAdvance(pos, max(deadline.Sub(o.now()), 0))
}

func (o *Orchestrator) startAdvance(pos room.Position, wait time.Duration) {
	o.advanceTimer = time.NewTimer(wait)
	o.advanceC = o.advanceTimer.C
	o.advanceFor = pos
}

func (o *Orchestrator) stopAdvance() {
	if o.advanceTimer != nil {
		o.advanceTimer.Stop()
	}
	o.advanceTimer = nil
	o.advanceC = nil
}

// advance asks the room to leave the armed position. The call carries the
// position so a late or repeated advance is a no-op; it is retried until a
// snapshot shows the room has moved on.
func (o *Orchestrator) advance(ctx context.Context) {
	pos := o.advanceFor
	o.startAdvance(pos, o.opts.LivenessInterval)
	o.async(ctx, "advance", func(ctx context.Context) error {
		return o.api.AdvancePhase(ctx, pos)
	})
}

func (o *Orchestrator) heartbeat(ctx context.Context) {
	if !o.haveSnap || o.snap.Room.Status == room.StatusFinished {
		return
	}
	o.async(ctx, "heartbeat", o.api.Heartbeat)
}

// checkHost takes over a room whose host has gone quiet.
func (o *Orchestrator) checkHost(ctx context.Context) {
	if !o.opts.AutoFailover || !o.haveSnap || o.snap.Room.Status != room.StatusPlaying {
		return
	}
	self, ok := o.snap.Player(o.playerID)
	if !ok || self.IsHost {
		return
	}
	if !room.HostDisconnected(o.snap.Players, o.now(), o.opts.HostTimeout) {
		return
	}
	o.log.Info().Str("room_id", o.snap.Room.ID).Msg("host unresponsive, taking over")
	o.async(ctx, "transfer-host", o.api.TransferHost)
}

// async runs a room call off the loop. Failures are logged and dropped:
// the next snapshot shows whether the call took effect.
func (o *Orchestrator) async(ctx context.Context, name string, call func(context.Context) error) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		err := call(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		event := o.log.Warn()
		if name == "heartbeat" || name == "position" || expected(err) {
			event = o.log.Debug()
		}
		event.Err(err).Str("call", name).Msg("room call failed")
	}()
}

// expected reports errors that are normal outcomes of racing other players.
func expected(err error) bool {
	switch room.Kind(err) {
	case room.KindConflict, room.KindPrecondition:
		return true
	}
	return errors.Is(err, context.Canceled)
}

func playerIndex(players []room.Player, id string) int {
	for i, player := range players {
		if player.ID == id {
			return i
		}
	}
	return 0
}
