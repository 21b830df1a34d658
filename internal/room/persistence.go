package room

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"party-play/internal/db"
)

var errCodeTaken = errors.New("join code taken")

type EventPayload struct {
	Code         string `json:"code,omitempty"`
	PlayerName   string `json:"player,omitempty"`
	Phase        Phase  `json:"phase,omitempty"`
	Status       Status `json:"status,omitempty"`
	Reason       string `json:"reason,omitempty"`
	SubmissionID string `json:"submission_id,omitempty"`
	Points       int    `json:"points,omitempty"`
	Emoji        string `json:"emoji,omitempty"`
	RematchCode  string `json:"rematch_code,omitempty"`
	PreviousHost string `json:"previous_host,omitempty"`
	Count        int    `json:"count,omitempty"`
	Round        *int   `json:"round,omitempty"`
	Winners      int    `json:"winners,omitempty"`
}

// inTx runs fn in one transaction. Without a database it does nothing.
func (s *Service) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func persistGame(tx *gorm.DB, id string, raw []byte, title string) error {
	var count int64
	if err := tx.Model(&db.Game{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return tx.Create(&db.Game{ID: id, Title: title, Definition: datatypes.JSON(raw)}).Error
}

func insertRoom(tx *gorm.DB, room Room) error {
	record := db.Room{
		ID:             room.ID,
		GameID:         room.GameID,
		Code:           room.Code,
		HostSessionID:  room.HostSessionID,
		Status:         string(room.Status),
		CurrentRound:   room.CurrentRound,
		RoundPhase:     string(room.RoundPhase),
		RoundStartedAt: room.RoundStartedAt,
		RematchCode:    room.RematchCode,
		LastActivityAt: room.LastActivityAt,
		CreatedAt:      room.CreatedAt,
	}
	if err := tx.Create(&record).Error; err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == "idx_rooms_code" {
			return errCodeTaken
		}
		return err
	}
	return nil
}

func saveRoom(tx *gorm.DB, room Room) error {
	return tx.Model(&db.Room{}).Where("id = ?", room.ID).Updates(map[string]any{
		"host_session_id":  room.HostSessionID,
		"status":           string(room.Status),
		"current_round":    room.CurrentRound,
		"round_phase":      string(room.RoundPhase),
		"round_started_at": room.RoundStartedAt,
		"rematch_code":     room.RematchCode,
		"last_activity_at": room.LastActivityAt,
	}).Error
}

func insertPlayer(tx *gorm.DB, player Player) error {
	return tx.Create(&db.Player{
		ID:            player.ID,
		RoomID:        player.RoomID,
		SessionID:     player.SessionID,
		Name:          player.Name,
		Emoji:         player.Emoji,
		Score:         player.Score,
		IsHost:        player.IsHost,
		IsConnected:   player.IsConnected,
		IsSpectator:   player.IsSpectator,
		JoinedAt:      player.JoinedAt,
		LastHeartbeat: player.LastHeartbeat,
	}).Error
}

// savePlayers writes the players in order, so a demotion listed first clears
// the one-host index before the promotion lands.
func savePlayers(tx *gorm.DB, players ...Player) error {
	for _, player := range players {
		err := tx.Model(&db.Player{}).Where("id = ?", player.ID).Updates(map[string]any{
			"name":           player.Name,
			"emoji":          player.Emoji,
			"score":          player.Score,
			"is_host":        player.IsHost,
			"is_connected":   player.IsConnected,
			"is_spectator":   player.IsSpectator,
			"last_heartbeat": player.LastHeartbeat,
		}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func insertSubmission(tx *gorm.DB, submission Submission) error {
	err := tx.Create(&db.Submission{
		ID:          submission.ID,
		RoomID:      submission.RoomID,
		PlayerID:    submission.PlayerID,
		Round:       submission.Round,
		PlayerName:  submission.PlayerName,
		PlayerEmoji: submission.PlayerEmoji,
		Content:     submission.Content,
		Type:        string(submission.Type),
		Votes:       submission.Votes,
		BonusPoints: submission.BonusPoints,
		CreatedAt:   submission.CreatedAt,
	}).Error
	if _, ok := uniqueViolation(err); ok {
		return ErrAlreadySubmitted
	}
	return err
}

func insertVote(tx *gorm.DB, vote Vote, submission Submission) error {
	err := tx.Create(&db.Vote{
		ID:           vote.ID,
		RoomID:       vote.RoomID,
		PlayerID:     vote.PlayerID,
		Round:        vote.Round,
		SubmissionID: vote.SubmissionID,
		CreatedAt:    vote.CreatedAt,
	}).Error
	if _, ok := uniqueViolation(err); ok {
		return ErrAlreadyVoted
	}
	if err != nil {
		return err
	}
	return tx.Model(&db.Submission{}).Where("id = ?", submission.ID).Update("votes", submission.Votes).Error
}

func insertReaction(tx *gorm.DB, reaction Reaction) error {
	return tx.Create(&db.Reaction{
		ID:          reaction.ID,
		RoomID:      reaction.RoomID,
		PlayerID:    reaction.PlayerID,
		PlayerName:  reaction.PlayerName,
		PlayerEmoji: reaction.PlayerEmoji,
		Emoji:       reaction.Emoji,
		CreatedAt:   reaction.CreatedAt,
	}).Error
}

func persistEvent(tx *gorm.DB, room Room, playerID string, eventType string, payload EventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := db.Event{
		RoomID:  room.ID,
		Type:    eventType,
		Payload: datatypes.JSON(data),
	}
	if playerID != "" {
		event.PlayerID = &playerID
	}
	if room.Status == StatusPlaying {
		round := room.CurrentRound
		event.Round = &round
	}
	return tx.Create(&event).Error
}

// uniqueViolation reports a Postgres unique violation and the constraint it
// hit.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}
