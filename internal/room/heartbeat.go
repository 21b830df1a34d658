package room

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// Heartbeat marks the session's player as alive. Unknown sessions are
// ignored.
func (s *Service) Heartbeat(ctx context.Context, roomID, sessionID string) (err error) {
	ctx, span := s.startSpan(ctx, "Heartbeat", attribute.String("room_id", roomID))
	defer func() { endSpan(span, err) }()

	if _, err := s.loadByID(ctx, roomID); err != nil {
		return err
	}
	_, err = s.store.update(roomID, func(rec *record) error {
		index, ok := rec.playerBySession(sessionID)
		if !ok {
			return errNoChange
		}
		now := s.now()
		player := &rec.players[index]
		player.LastHeartbeat = &now
		player.IsConnected = true
		touch(rec, now)
		return s.inTx(ctx, func(tx *gorm.DB) error {
			if err := savePlayers(tx, *player); err != nil {
				return err
			}
			return saveRoom(tx, rec.room)
		})
	})
	return err
}

type SweepResult struct {
	Disconnected int
	Abandoned    int
	Evicted      int
}

// Sweep marks silent players as disconnected, finishes games nobody has
// heartbeated for AbandonAfter, and evicts rooms idle for EvictAfter. Evicted
// rooms stay in the database and are restored on the next lookup.
func (s *Service) Sweep(ctx context.Context) (result SweepResult, err error) {
	ctx, span := s.startSpan(ctx, "Sweep")
	defer func() { endSpan(span, err) }()

	now := s.now()
	for _, roomID := range s.store.ids() {
		rec, ok := s.store.get(roomID)
		if !ok {
			continue
		}
		if s.idle(rec, now) && s.store.evict(roomID, func(rec *record) bool { return s.idle(rec, now) }) {
			s.dropLimiters(roomID)
			result.Evicted++
			s.log.Info().Str("room_id", roomID).Str("code", rec.room.Code).Msg("room evicted")
			continue
		}
		disconnected, abandoned := 0, false
		_, err := s.store.update(roomID, func(rec *record) error {
			changed := make([]Player, 0)
			latest := time.Time{}
			for i := range rec.players {
				player := &rec.players[i]
				seen := player.LastSeen()
				if seen.After(latest) {
					latest = seen
				}
				if player.IsConnected && now.Sub(seen) > s.opts.HostTimeout {
					player.IsConnected = false
					changed = append(changed, *player)
				}
			}
			abandoned = rec.room.Status == StatusPlaying && now.Sub(latest) > s.opts.AbandonAfter
			if abandoned {
				rec.room.Status = StatusFinished
				rec.positions = nil
				stamp(&rec.room, now)
			}
			pruned := pruneReactions(rec, now.Add(-s.opts.ReactionWindow))
			if len(changed) == 0 && !abandoned && !pruned {
				return errNoChange
			}
			disconnected = len(changed)
			return s.inTx(ctx, func(tx *gorm.DB) error {
				if err := savePlayers(tx, changed...); err != nil {
					return err
				}
				if !abandoned {
					return nil
				}
				if err := saveRoom(tx, rec.room); err != nil {
					return err
				}
				return persistEvent(tx, rec.room, "", "room_abandoned", EventPayload{Status: rec.room.Status, Reason: "no heartbeats"})
			})
		})
		if err != nil {
			s.log.Error().Err(err).Str("room_id", roomID).Msg("sweep failed")
			continue
		}
		result.Disconnected += disconnected
		if abandoned {
			result.Abandoned++
			s.log.Warn().Str("room_id", roomID).Msg("room abandoned")
		}
	}
	return result, nil
}

func (s *Service) idle(rec *record, now time.Time) bool {
	return now.Sub(rec.room.LastActivityAt) > s.opts.EvictAfter
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.Sweep(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
				continue
			}
			if result != (SweepResult{}) {
				s.log.Debug().
					Int("disconnected", result.Disconnected).
					Int("abandoned", result.Abandoned).
					Int("evicted", result.Evicted).
					Msg("sweep complete")
			}
		}
	}
}
