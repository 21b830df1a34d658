package web

import "time"

type RoomSummary struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	Players int    `json:"players"`
}

type GameOption struct {
	ID    string
	Title string
}

type HomeData struct {
	Rooms []RoomSummary
	Games []GameOption
}

type RoomPlayer struct {
	Name        string
	Emoji       string
	Score       int
	IsHost      bool
	IsConnected bool
	IsSpectator bool
}

type RoomView struct {
	Code         string
	Title        string
	Tagline      string
	ThemeEmoji   string
	AccentColor  string
	Status       string
	Phase        string
	RoundLabel   string
	RoundTitle   string
	PhaseStarted time.Time
	RematchCode  string
	Players      []RoomPlayer
}
