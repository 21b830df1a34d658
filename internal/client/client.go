// Package client drives one player through a room: it renders nothing, but
// it makes every call a player's device makes, including advancing phases
// when it holds the host role and running sandboxed games under a health
// monitor.
package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"party-play/internal/game"
	"party-play/internal/health"
	"party-play/internal/room"
)

// API is the set of room calls one player makes. Implementations are bound
// to a room and a player.
type API interface {
	Heartbeat(ctx context.Context) error
	AdvancePhase(ctx context.Context, expect room.Position) error
	TransferHost(ctx context.Context) error
	SubmitScore(ctx context.Context, round int, content string, kind room.SubmissionType) error
	Vote(ctx context.Context, submissionID string, round int) error
	UpdatePosition(ctx context.Context, update room.PositionUpdate) error
}

// Feed delivers room snapshots, newest last. The channel is closed when the
// feed ends.
type Feed interface {
	Snapshots() <-chan room.Snapshot
}

// ChanFeed adapts a snapshot channel to Feed.
type ChanFeed <-chan room.Snapshot

func (f ChanFeed) Snapshots() <-chan room.Snapshot { return f }

// SandboxFactory starts game code and returns its parent end.
type SandboxFactory interface {
	Open(ctx context.Context, code string) (health.Sandbox, error)
}

// SandboxFunc adapts a function to SandboxFactory.
type SandboxFunc func(ctx context.Context, code string) (health.Sandbox, error)

func (f SandboxFunc) Open(ctx context.Context, code string) (health.Sandbox, error) {
	return f(ctx, code)
}

// Policy decides what a player answers and votes for.
type Policy interface {
	Answer(round game.Round) (content string, kind room.SubmissionType, ok bool)
	Vote(snap room.Snapshot, playerID string) (submissionID string, ok bool)
}

// ScenePlayer plays a native scene round and returns the score. It must
// return when ctx is cancelled, and must not use peers after returning.
type ScenePlayer interface {
	Play(ctx context.Context, round game.Round, scene game.NativeScene, peers ScenePeers) (int, error)
}

// ScenePeers links a scene to the other players in the same round.
type ScenePeers interface {
	// Report sends the local avatar. It never blocks; reports closer together
	// than PositionInterval, or sent while one is in flight, are dropped.
	Report(x, y, velocityX, velocityY float64, animation string)
	// Positions returns the other players' latest avatars.
	Positions() []room.PlayerPosition
}

// Timings are the host's phase durations. Submit uses the round's own time
// limit.
type Timings struct {
	Intro  time.Duration
	Vote   time.Duration
	Reveal time.Duration
	Scores time.Duration
	// Grace is added to every phase so slow clients can finish.
	Grace time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Intro:  4 * time.Second,
		Vote:   20 * time.Second,
		Reveal: 5 * time.Second,
		Scores: 0,
		Grace:  1500 * time.Millisecond,
	}
}

func (t Timings) phase(phase room.Phase, round game.Round) time.Duration {
	var d time.Duration
	switch phase {
	case room.PhaseIntro:
		d = t.Intro
	case room.PhaseSubmit:
		d = time.Duration(round.Limit()) * time.Second
	case room.PhaseVote:
		d = t.Vote
	case room.PhaseReveal:
		d = t.Reveal
	case room.PhaseScores:
		d = t.Scores
	}
	return d + t.Grace
}

type Options struct {
	Timings           Timings
	HeartbeatInterval time.Duration
	LivenessInterval  time.Duration
	HostTimeout       time.Duration
	// AutoFailover takes the host role when the host stops heartbeating.
	AutoFailover bool
	// OnRematch is called once with the code of the room a finished game
	// moved to.
	OnRematch func(code string)
	// Observer receives health events of the current round only.
	Observer health.Observer
	Health   health.Config
	Now      func() time.Time
	Logger   *zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		Timings:           DefaultTimings(),
		HeartbeatInterval: 10 * time.Second,
		LivenessInterval:  2 * time.Second,
		HostTimeout:       30 * time.Second,
		AutoFailover:      true,
		Health:            health.DefaultConfig(),
	}
}
