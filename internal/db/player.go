package db

import "time"

type Player struct {
	ID            string    `gorm:"primaryKey;size:36"`
	RoomID        string    `gorm:"size:36;index;not null;uniqueIndex:idx_players_room_session"`
	SessionID     string    `gorm:"size:64;not null;uniqueIndex:idx_players_room_session"`
	Name          string    `gorm:"size:64;not null"`
	Emoji         string    `gorm:"size:16"`
	Score         int       `gorm:"not null;default:0"`
	IsHost        bool      `gorm:"not null;default:false"`
	IsConnected   bool      `gorm:"not null;default:true"`
	IsSpectator   bool      `gorm:"not null;default:false"`
	JoinedAt      time.Time `gorm:"not null"`
	LastHeartbeat *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}
