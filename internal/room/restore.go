package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"party-play/internal/db"
	"party-play/internal/game"
)

// loadByCode returns the resident room for code, restoring it from the
// database when it was evicted or the process restarted.
func (s *Service) loadByCode(ctx context.Context, code string) (*record, error) {
	if rec, ok := s.store.getByCode(code); ok {
		return rec, nil
	}
	return s.restore(ctx, "code = ?", code)
}

func (s *Service) loadByID(ctx context.Context, roomID string) (*record, error) {
	if rec, ok := s.store.get(roomID); ok {
		return rec, nil
	}
	return s.restore(ctx, "id = ?", roomID)
}

func (s *Service) restore(ctx context.Context, query string, arg string) (*record, error) {
	if s.db == nil {
		return nil, ErrRoomNotFound
	}
	conn := s.db.WithContext(ctx)
	var roomRow db.Room
	if err := conn.Where(query, arg).First(&roomRow).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	var gameRow db.Game
	if err := conn.First(&gameRow, "id = ?", roomRow.GameID).Error; err != nil {
		return nil, fmt.Errorf("load game %s: %w", roomRow.GameID, err)
	}
	def, err := game.Parse(gameRow.Definition)
	if err != nil {
		return nil, err
	}

	var players []db.Player
	if err := conn.Where("room_id = ?", roomRow.ID).Order("joined_at asc").Find(&players).Error; err != nil {
		return nil, err
	}
	var submissions []db.Submission
	if err := conn.Where("room_id = ?", roomRow.ID).Order("created_at asc").Find(&submissions).Error; err != nil {
		return nil, err
	}
	var votes []db.Vote
	if err := conn.Where("room_id = ?", roomRow.ID).Order("created_at asc").Find(&votes).Error; err != nil {
		return nil, err
	}
	var reactions []db.Reaction
	since := s.now().Add(-s.opts.ReactionWindow)
	if err := conn.Where("room_id = ? AND created_at > ?", roomRow.ID, since).Order("created_at asc").Find(&reactions).Error; err != nil {
		return nil, err
	}

	var tallies []db.Event
	if err := conn.Where("room_id = ? AND type = ?", roomRow.ID, eventMajorityTallied).Order("id asc").Find(&tallies).Error; err != nil {
		return nil, err
	}

	rec := &record{
		room:        buildRoom(roomRow),
		game:        def,
		players:     buildPlayers(players),
		submissions: buildSubmissions(submissions),
		votes:       buildVotes(votes),
		reactions:   buildReactions(reactions),
		tallied:     buildTallied(tallies),
	}
	restored := s.store.restore(rec)
	if restored == rec {
		s.log.Info().Str("room_id", rec.room.ID).Str("code", rec.room.Code).Msg("room restored from database")
	}
	return restored, nil
}

func buildRoom(row db.Room) Room {
	return Room{
		ID:             row.ID,
		GameID:         row.GameID,
		Code:           row.Code,
		HostSessionID:  row.HostSessionID,
		Status:         Status(row.Status),
		CurrentRound:   row.CurrentRound,
		RoundPhase:     Phase(row.RoundPhase),
		RoundStartedAt: utcPtr(row.RoundStartedAt),
		RematchCode:    row.RematchCode,
		CreatedAt:      row.CreatedAt.UTC(),
		LastActivityAt: row.LastActivityAt.UTC(),
	}
}

func buildPlayers(rows []db.Player) []Player {
	players := make([]Player, 0, len(rows))
	for _, row := range rows {
		players = append(players, Player{
			ID:            row.ID,
			RoomID:        row.RoomID,
			SessionID:     row.SessionID,
			Name:          row.Name,
			Emoji:         row.Emoji,
			Score:         row.Score,
			IsHost:        row.IsHost,
			IsConnected:   row.IsConnected,
			IsSpectator:   row.IsSpectator,
			JoinedAt:      row.JoinedAt.UTC(),
			LastHeartbeat: utcPtr(row.LastHeartbeat),
		})
	}
	return players
}

func buildSubmissions(rows []db.Submission) []Submission {
	submissions := make([]Submission, 0, len(rows))
	for _, row := range rows {
		submissions = append(submissions, Submission{
			ID:          row.ID,
			RoomID:      row.RoomID,
			PlayerID:    row.PlayerID,
			PlayerName:  row.PlayerName,
			PlayerEmoji: row.PlayerEmoji,
			Round:       row.Round,
			Content:     row.Content,
			Type:        SubmissionType(row.Type),
			Votes:       row.Votes,
			BonusPoints: row.BonusPoints,
			CreatedAt:   row.CreatedAt.UTC(),
		})
	}
	return submissions
}

func buildVotes(rows []db.Vote) []Vote {
	votes := make([]Vote, 0, len(rows))
	for _, row := range rows {
		votes = append(votes, Vote{
			ID:           row.ID,
			RoomID:       row.RoomID,
			PlayerID:     row.PlayerID,
			SubmissionID: row.SubmissionID,
			Round:        row.Round,
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return votes
}

func buildReactions(rows []db.Reaction) []Reaction {
	reactions := make([]Reaction, 0, len(rows))
	for _, row := range rows {
		reactions = append(reactions, Reaction{
			ID:          row.ID,
			RoomID:      row.RoomID,
			PlayerID:    row.PlayerID,
			PlayerName:  row.PlayerName,
			PlayerEmoji: row.PlayerEmoji,
			Emoji:       row.Emoji,
			CreatedAt:   row.CreatedAt.UTC(),
		})
	}
	return reactions
}

// buildTallied reads the paid-out rounds back from their events. Events
// with an unreadable payload are skipped.
func buildTallied(rows []db.Event) []int {
	out := make([]int, 0, len(rows))
	for _, row := range rows {
		var payload EventPayload
		if err := json.Unmarshal(row.Payload, &payload); err != nil || payload.Round == nil {
			continue
		}
		out = append(out, *payload.Round)
	}
	return out
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}
