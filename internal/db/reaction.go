package db

import "time"

type Reaction struct {
	ID          string    `gorm:"primaryKey;size:36"`
	RoomID      string    `gorm:"size:36;index:idx_reactions_room_created;not null"`
	PlayerID    string    `gorm:"size:36;not null"`
	PlayerName  string    `gorm:"size:64;not null"`
	PlayerEmoji string    `gorm:"size:16"`
	Emoji       string    `gorm:"size:16;not null"`
	CreatedAt   time.Time `gorm:"not null;index:idx_reactions_room_created"`
}
