package db

import "time"

type Submission struct {
	ID          string    `gorm:"primaryKey;size:36"`
	RoomID      string    `gorm:"size:36;index;not null"`
	PlayerID    string    `gorm:"size:36;not null;uniqueIndex:idx_submissions_player_round"`
	Round       int       `gorm:"not null;uniqueIndex:idx_submissions_player_round"`
	PlayerName  string    `gorm:"size:64;not null"`
	PlayerEmoji string    `gorm:"size:16"`
	Content     string    `gorm:"type:text;not null"`
	Type        string    `gorm:"size:16;not null"`
	Votes       int       `gorm:"not null;default:0"`
	BonusPoints int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
}
