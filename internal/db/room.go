package db

import "time"

type Room struct {
	ID             string `gorm:"primaryKey;size:36"`
	GameID         string `gorm:"size:36;index;not null"`
	Code           string `gorm:"size:12;uniqueIndex;not null"`
	HostSessionID  string `gorm:"size:64;not null"`
	Status         string `gorm:"size:16;not null"`
	CurrentRound   int    `gorm:"not null;default:0"`
	RoundPhase     string `gorm:"size:16"`
	RoundStartedAt *time.Time
	RematchCode    string    `gorm:"size:12"`
	LastActivityAt time.Time `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
	Players        []Player
	Submissions    []Submission
}
