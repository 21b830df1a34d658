package db

import "time"

type Vote struct {
	ID           string    `gorm:"primaryKey;size:36"`
	RoomID       string    `gorm:"size:36;index;not null"`
	PlayerID     string    `gorm:"size:36;not null;uniqueIndex:idx_votes_player_round"`
	Round        int       `gorm:"not null;uniqueIndex:idx_votes_player_round"`
	SubmissionID string    `gorm:"size:36;index;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}
