package room

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// StartGame moves a lobby into the first round's intro.
func (s *Service) StartGame(ctx context.Context, roomID, sessionID string) (snap Snapshot, err error) {
	ctx, span := s.startSpan(ctx, "StartGame", attribute.String("room_id", roomID))
	defer func() { endSpan(span, err) }()

	if _, err := s.loadByID(ctx, roomID); err != nil {
		return Snapshot{}, err
	}
	next, err := s.store.update(roomID, func(rec *record) error {
		if rec.room.Status != StatusLobby {
			return ErrAlreadyStarted
		}
		if rec.room.HostSessionID != sessionID {
			return ErrNotHost
		}
		players := 0
		for _, player := range rec.players {
			if !player.IsSpectator {
				players++
			}
		}
		if players < 2 {
			return ErrInsufficientPlayers
		}
		if rec.game.TotalRounds() == 0 {
			return ErrNoRounds
		}
		now := s.now()
		rec.room.Status = StatusPlaying
		rec.room.CurrentRound = 0
		setPhaseAt(&rec.room, PhaseIntro, now)
		touch(rec, now)
		return s.inTx(ctx, func(tx *gorm.DB) error {
			if err := saveRoom(tx, rec.room); err != nil {
				return err
			}
			return persistEvent(tx, rec.room, "", "game_started", EventPayload{Count: players})
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	s.log.Info().Str("room_id", roomID).Int("rounds", next.game.TotalRounds()).Msg("game started")
	return next.snapshot(), nil
}

// AdvancePhase moves the room one step through the round. When expect is set
// and the room is no longer at that position the call is a no-op, so
// duplicate timer fires cannot skip a phase.
func (s *Service) AdvancePhase(ctx context.Context, roomID, sessionID string, expect *Position) (snap Snapshot, err error) {
	ctx, span := s.startSpan(ctx, "AdvancePhase", attribute.String("room_id", roomID))
	defer func() { endSpan(span, err) }()

	if _, err := s.loadByID(ctx, roomID); err != nil {
		return Snapshot{}, err
	}
	var from Position
	next, err := s.store.update(roomID, func(rec *record) error {
		if rec.room.HostSessionID != sessionID {
			return ErrNotHost
		}
		if rec.room.Status != StatusPlaying {
			return errNoChange
		}
		from = Position{Round: rec.room.CurrentRound, Phase: rec.room.RoundPhase}
		if expect != nil && *expect != from {
			return errNoChange
		}
		now := s.now()
		advance(rec, now)
		touch(rec, now)
		return s.inTx(ctx, func(tx *gorm.DB) error {
			if err := saveRoom(tx, rec.room); err != nil {
				return err
			}
			return persistEvent(tx, rec.room, "", "phase_advanced", EventPayload{
				Phase:  rec.room.RoundPhase,
				Status: rec.room.Status,
			})
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	if from.Phase != "" && (next.room.RoundPhase != from.Phase || next.room.CurrentRound != from.Round || next.room.Status == StatusFinished) {
		s.log.Info().
			Str("room_id", roomID).
			Int("round", next.room.CurrentRound).
			Str("from", string(from.Phase)).
			Str("phase", string(next.room.RoundPhase)).
			Str("status", string(next.room.Status)).
			Msg("phase advanced")
	}
	return next.snapshot(), nil
}

// TransferHost promotes the caller once the current host has gone silent for
// longer than the host timeout. The host is re-read inside the mutation, so
// of several concurrent requests exactly one wins and the rest see a fresh
// host.
func (s *Service) TransferHost(ctx context.Context, roomID, sessionID string) (snap Snapshot, err error) {
	ctx, span := s.startSpan(ctx, "TransferHost", attribute.String("room_id", roomID))
	defer func() { endSpan(span, err) }()

	if _, err := s.loadByID(ctx, roomID); err != nil {
		return Snapshot{}, err
	}
	var previous string
	next, err := s.store.update(roomID, func(rec *record) error {
		index, ok := rec.playerBySession(sessionID)
		if !ok {
			return ErrPlayerNotFound
		}
		if rec.players[index].IsHost {
			return errNoChange
		}
		now := s.now()
		changed := make([]Player, 0, 2)
		if hostIndex, hasHost := rec.host(); hasHost {
			host := &rec.players[hostIndex]
			if now.Sub(host.LastSeen()) <= s.opts.HostTimeout {
				return ErrHostStillConnected
			}
			host.IsHost = false
			host.IsConnected = false
			previous = host.ID
			changed = append(changed, *host)
		}
		requester := &rec.players[index]
		requester.IsHost = true
		requester.IsConnected = true
		requester.LastHeartbeat = &now
		changed = append(changed, *requester)
		rec.room.HostSessionID = sessionID
		touch(rec, now)
		return s.inTx(ctx, func(tx *gorm.DB) error {
			if err := savePlayers(tx, changed...); err != nil {
				return err
			}
			if err := saveRoom(tx, rec.room); err != nil {
				return err
			}
			return persistEvent(tx, rec.room, requester.ID, "host_transferred", EventPayload{
				PlayerName:   requester.Name,
				PreviousHost: previous,
			})
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	if previous != "" {
		s.log.Warn().Str("room_id", roomID).Str("previous_host", previous).Msg("host transferred")
	}
	return next.snapshot(), nil
}

// SetRematchCode tags a finished room with the code of its follow-up room.
func (s *Service) SetRematchCode(ctx context.Context, roomID, code string) (err error) {
	ctx, span := s.startSpan(ctx, "SetRematchCode", attribute.String("room_id", roomID))
	defer func() { endSpan(span, err) }()

	code = normalizeCode(code)
	if code == "" {
		return fmt.Errorf("%w: rematch code is required", ErrInvalidInput)
	}
	if _, err := s.loadByID(ctx, roomID); err != nil {
		return err
	}
	_, err = s.store.update(roomID, func(rec *record) error {
		if rec.room.Status != StatusFinished {
			return ErrGameNotFinished
		}
		return s.tagRematch(ctx, rec, code)
	})
	return err
}

func (s *Service) tagRematch(ctx context.Context, rec *record, code string) error {
	rec.room.RematchCode = code
	touch(rec, s.now())
	return s.inTx(ctx, func(tx *gorm.DB) error {
		if err := saveRoom(tx, rec.room); err != nil {
			return err
		}
		return persistEvent(tx, rec.room, "", "rematch_created", EventPayload{RematchCode: code})
	})
}

// Rematch opens a new lobby for the same game hosted by the caller and tags
// the finished room with its code. When a rematch already exists the caller
// joins it instead.
func (s *Service) Rematch(ctx context.Context, roomID string, host Identity) (snap Snapshot, player Player, err error) {
	ctx, span := s.startSpan(ctx, "Rematch", attribute.String("room_id", roomID))
	defer func() { endSpan(span, err) }()

	rec, err := s.loadByID(ctx, roomID)
	if err != nil {
		return Snapshot{}, Player{}, err
	}
	if rec.room.Status != StatusFinished {
		return Snapshot{}, Player{}, ErrGameNotFinished
	}
	if rec.room.RematchCode != "" {
		return s.Join(ctx, rec.room.RematchCode, host)
	}
	snap, player, err = s.createRoom(ctx, rec.room.GameID, rec.game, host)
	if err != nil {
		return Snapshot{}, Player{}, err
	}
	var winner string
	_, err = s.store.update(roomID, func(rec *record) error {
		if rec.room.RematchCode != "" {
			winner = rec.room.RematchCode
			return errNoChange
		}
		return s.tagRematch(ctx, rec, snap.Room.Code)
	})
	if err != nil {
		return Snapshot{}, Player{}, err
	}
	if winner != "" && !strings.EqualFold(winner, snap.Room.Code) {
		s.log.Info().Str("room_id", roomID).Str("code", winner).Msg("rematch raced, joining existing room")
		return s.Join(ctx, winner, host)
	}
	return snap, player, nil
}
