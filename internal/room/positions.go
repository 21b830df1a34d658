package room

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
)

const maxAnimationLength = 32

var seatColors = []string{
	"#ff6b6b",
	"#4dabf7",
	"#51cf66",
	"#ffa94d",
	"#ffd43b",
	"#845ef7",
	"#20c997",
	"#e64980",
	"#00bcd4",
	"#8bc34a",
	"#ff5722",
	"#607d8b",
}

// SeatColor gives each seat, counted in join order, a stable color.
func SeatColor(seat int) string {
	if seat < 0 {
		seat = 0
	}
	return seatColors[seat%len(seatColors)]
}

func (r *record) positionsForRound(round int) []PlayerPosition {
	out := make([]PlayerPosition, 0)
	for _, position := range r.positions {
		if position.Round == round {
			out = append(out, position)
		}
	}
	return out
}

// UpdatePosition stores where the player's avatar is in the current round.
// Reports for any other round are dropped without an error, so late packets
// from a finished scene are harmless. Positions live in memory only and are
// cleared when the round changes.
func (s *Service) UpdatePosition(ctx context.Context, roomID, playerID string, update PositionUpdate) (err error) {
	ctx, span := s.startSpan(ctx, "UpdatePosition",
		attribute.String("room_id", roomID),
		attribute.String("player_id", playerID),
	)
	defer func() { endSpan(span, err) }()

	if update.Round < 0 {
		return fmt.Errorf("%w: round must not be negative", ErrInvalidInput)
	}
	for _, v := range []float64{update.X, update.Y, update.VelocityX, update.VelocityY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: coordinates must be finite", ErrInvalidInput)
		}
	}
	if len(update.Animation) > maxAnimationLength {
		return fmt.Errorf("%w: animation name is too long", ErrInvalidInput)
	}
	if update.Animation == "" {
		update.Animation = "idle"
	}
	if _, err := s.loadByID(ctx, roomID); err != nil {
		return err
	}
	_, err = s.store.update(roomID, func(rec *record) error {
		if rec.room.Status != StatusPlaying {
			return ErrGameNotInProgress
		}
		index, ok := rec.playerByID(playerID)
		if !ok {
			return ErrPlayerNotFound
		}
		player := rec.players[index]
		if player.IsSpectator {
			return ErrSpectator
		}
		if update.Round != rec.room.CurrentRound {
			return errNoChange
		}
		position := PlayerPosition{
			PlayerID:    player.ID,
			PlayerName:  player.Name,
			PlayerEmoji: player.Emoji,
			Round:       update.Round,
			X:           update.X,
			Y:           update.Y,
			VelocityX:   update.VelocityX,
			VelocityY:   update.VelocityY,
			Animation:   update.Animation,
			Color:       SeatColor(index),
			UpdatedAt:   s.now(),
		}
		for i := range rec.positions {
			if rec.positions[i].PlayerID == player.ID && rec.positions[i].Round == update.Round {
				rec.positions[i] = position
				return nil
			}
		}
		rec.positions = append(rec.positions, position)
		return nil
	})
	return err
}

// Positions returns the avatars reported for round.
func (s *Service) Positions(ctx context.Context, roomID string, round int) ([]PlayerPosition, error) {
	rec, err := s.loadByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return rec.positionsForRound(round), nil
}
