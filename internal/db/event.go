package db

import (
	"time"

	"gorm.io/datatypes"
)

// Event is the append-only audit trail of room mutations.
type Event struct {
	ID        uint    `gorm:"primaryKey"`
	RoomID    string  `gorm:"size:36;index;not null"`
	PlayerID  *string `gorm:"size:36;index"`
	Round     *int
	Type      string         `gorm:"size:64;not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null"`
}
