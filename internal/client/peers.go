package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"party-play/internal/room"
)

// PositionInterval is the shortest gap between two avatar reports.
const PositionInterval = 100 * time.Millisecond

// scenePeers is the ScenePeers of one scene round. see runs on the loop;
// Report and Positions run on the scene's goroutine.
type scenePeers struct {
	o     *Orchestrator
	ctx   context.Context
	round int

	mu       sync.Mutex
	others   []room.PlayerPosition
	lastSent time.Time
	inFlight atomic.Bool
}

func newScenePeers(ctx context.Context, o *Orchestrator, round int) *scenePeers {
	return &scenePeers{o: o, ctx: ctx, round: round}
}

// see keeps the other players' avatars from a snapshot of the same round.
func (p *scenePeers) see(snap room.Snapshot) {
	if snap.Room.CurrentRound != p.round {
		return
	}
	others := make([]room.PlayerPosition, 0, len(snap.Positions))
	for _, position := range snap.Positions {
		if position.PlayerID != p.o.playerID && position.Round == p.round {
			others = append(others, position)
		}
	}
	p.mu.Lock()
	p.others = others
	p.mu.Unlock()
}

func (p *scenePeers) Positions() []room.PlayerPosition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]room.PlayerPosition(nil), p.others...)
}

func (p *scenePeers) Report(x, y, velocityX, velocityY float64, animation string) {
	if p.ctx.Err() != nil {
		return
	}
	now := p.o.now()
	p.mu.Lock()
	if !p.lastSent.IsZero() && now.Sub(p.lastSent) < PositionInterval {
		p.mu.Unlock()
		return
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return
	}
	p.lastSent = now
	p.mu.Unlock()

	update := room.PositionUpdate{
		Round:     p.round,
		X:         x,
		Y:         y,
		VelocityX: velocityX,
		VelocityY: velocityY,
		Animation: animation,
	}
	p.o.async(p.ctx, "position", func(ctx context.Context) error {
		defer p.inFlight.Store(false)
		return p.o.api.UpdatePosition(ctx, update)
	})
}
