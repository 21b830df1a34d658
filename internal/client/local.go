package client

import (
	"context"

	"party-play/internal/room"
)

// Local calls a room service in the same process.
type Local struct {
	Service   *room.Service
	RoomID    string
	SessionID string
	PlayerID  string
}

// JoinLocal joins the room with code and binds a Local to the new player.
func JoinLocal(ctx context.Context, svc *room.Service, code string, id room.Identity) (*Local, room.Snapshot, error) {
	snap, player, err := svc.Join(ctx, code, id)
	if err != nil {
		return nil, room.Snapshot{}, err
	}
	return &Local{Service: svc, RoomID: snap.Room.ID, SessionID: id.SessionID, PlayerID: player.ID}, snap, nil
}

func (l *Local) Heartbeat(ctx context.Context) error {
	return l.Service.Heartbeat(ctx, l.RoomID, l.SessionID)
}

func (l *Local) AdvancePhase(ctx context.Context, expect room.Position) error {
	_, err := l.Service.AdvancePhase(ctx, l.RoomID, l.SessionID, &expect)
	return err
}

func (l *Local) TransferHost(ctx context.Context) error {
	_, err := l.Service.TransferHost(ctx, l.RoomID, l.SessionID)
	return err
}

func (l *Local) SubmitScore(ctx context.Context, round int, content string, kind room.SubmissionType) error {
	_, err := l.Service.SubmitScore(ctx, l.RoomID, l.PlayerID, round, content, kind)
	return err
}

func (l *Local) Vote(ctx context.Context, submissionID string, round int) error {
	_, err := l.Service.Vote(ctx, l.RoomID, l.PlayerID, submissionID, round)
	return err
}

// Subscribe returns a feed of the room's snapshots and its cancel function.
func (l *Local) Subscribe(ctx context.Context) (ChanFeed, func(), error) {
	snapshots, cancel, err := l.Service.Subscribe(ctx, l.RoomID)
	if err != nil {
		return nil, nil, err
	}
	return ChanFeed(snapshots), cancel, nil
}

func (l *Local) UpdatePosition(ctx context.Context, update room.PositionUpdate) error {
	return l.Service.UpdatePosition(ctx, l.RoomID, l.PlayerID, update)
}
