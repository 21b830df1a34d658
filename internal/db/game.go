package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Game struct {
	ID         string         `gorm:"primaryKey;size:36"`
	Title      string         `gorm:"size:200;not null;index"`
	Definition datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
	Rooms      []Room
}

func (g *Game) BeforeCreate(*gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}
