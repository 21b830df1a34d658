package room

import (
	"time"

	"party-play/internal/game"
)

type Status string

const (
	StatusLobby    Status = "lobby"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

type Phase string

const (
	PhaseIntro  Phase = "intro"
	PhaseSubmit Phase = "submit"
	PhaseVote   Phase = "vote"
	PhaseReveal Phase = "reveal"
	PhaseScores Phase = "scores"
)

type SubmissionType string

const (
	SubmissionText    SubmissionType = "text"
	SubmissionChoice  SubmissionType = "choice"
	SubmissionRank    SubmissionType = "rank"
	SubmissionBoolean SubmissionType = "boolean"
)

func (t SubmissionType) Valid() bool {
	switch t {
	case SubmissionText, SubmissionChoice, SubmissionRank, SubmissionBoolean:
		return true
	}
	return false
}

type Room struct {
	ID             string     `json:"id"`
	GameID         string     `json:"gameId"`
	Code           string     `json:"code"`
	HostSessionID  string     `json:"-"`
	Status         Status     `json:"status"`
	CurrentRound   int        `json:"currentRound"`
	RoundPhase     Phase      `json:"roundPhase,omitempty"`
	RoundStartedAt *time.Time `json:"roundStartedAt,omitempty"`
	RematchCode    string     `json:"rematchCode,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
}

type Player struct {
	ID            string     `json:"id"`
	RoomID        string     `json:"roomId"`
	SessionID     string     `json:"-"`
	Name          string     `json:"name"`
	Emoji         string     `json:"emoji"`
	Score         int        `json:"score"`
	IsHost        bool       `json:"isHost"`
	IsConnected   bool       `json:"isConnected"`
	IsSpectator   bool       `json:"isSpectator"`
	JoinedAt      time.Time  `json:"joinedAt"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
}

// LastSeen is the last heartbeat, or the join time before the first one.
func (p Player) LastSeen() time.Time {
	if p.LastHeartbeat != nil {
		return *p.LastHeartbeat
	}
	return p.JoinedAt
}

type Submission struct {
	ID          string         `json:"id"`
	RoomID      string         `json:"roomId"`
	PlayerID    string         `json:"playerId"`
	PlayerName  string         `json:"playerName"`
	PlayerEmoji string         `json:"playerEmoji"`
	Round       int            `json:"round"`
	Content     string         `json:"content"`
	Type        SubmissionType `json:"type"`
	Votes       int            `json:"votes"`
	BonusPoints int            `json:"bonusPoints"`
	CreatedAt   time.Time      `json:"createdAt"`
}

type Vote struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"roomId"`
	PlayerID     string    `json:"playerId"`
	SubmissionID string    `json:"submissionId"`
	Round        int       `json:"round"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Reaction struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	PlayerID    string    `json:"playerId"`
	PlayerName  string    `json:"playerName"`
	PlayerEmoji string    `json:"playerEmoji"`
	Emoji       string    `json:"emoji"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PlayerPosition is where a player's avatar stands in a scene round. A player
// has at most one per round; each update replaces it.
type PlayerPosition struct {
	PlayerID    string    `json:"playerId"`
	PlayerName  string    `json:"playerName"`
	PlayerEmoji string    `json:"playerEmoji"`
	Round       int       `json:"round"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	VelocityX   float64   `json:"velocityX"`
	VelocityY   float64   `json:"velocityY"`
	Animation   string    `json:"animation"`
	Color       string    `json:"color"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PositionUpdate is what a client reports about its own avatar.
type PositionUpdate struct {
	Round     int     `json:"round"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	VelocityX float64 `json:"velocityX"`
	VelocityY float64 `json:"velocityY"`
	Animation string  `json:"animation"`
}

// Tally is the outcome of counting a round's submissions by content.
type Tally struct {
	Round  int            `json:"round"`
	Choice string         `json:"majorityChoice"`
	Counts map[string]int `json:"counts"`
	// Winners are the players who submitted Choice.
	Winners []string `json:"winners"`
	Points  int      `json:"points"`
}

// Position identifies one (round, phase) step of a running game.
type Position struct {
	Round int   `json:"round"`
	Phase Phase `json:"phase"`
}

// Snapshot is the read model pushed to clients after every write.
type Snapshot struct {
	Room        Room             `json:"room"`
	Game        *game.Definition `json:"game,omitempty"`
	Players     []Player         `json:"players"`
	Submissions []Submission     `json:"submissions"`
	Reactions   []Reaction       `json:"reactions"`
	Positions   []PlayerPosition `json:"positions"`
	Version     uint64           `json:"version"`
}

func (s Snapshot) Position() Position {
	return Position{Round: s.Room.CurrentRound, Phase: s.Room.RoundPhase}
}

func (s Snapshot) Host() (Player, bool) {
	for _, player := range s.Players {
		if player.IsHost {
			return player, true
		}
	}
	return Player{}, false
}

func (s Snapshot) Player(id string) (Player, bool) {
	for _, player := range s.Players {
		if player.ID == id {
			return player, true
		}
	}
	return Player{}, false
}

// CurrentRound returns the definition of the round in progress.
func (s Snapshot) CurrentRound() (game.Round, bool) {
	return s.Game.Round(s.Room.CurrentRound)
}

// HasSubmitted reports whether the player has a submission in the snapshot's
// current-round list.
func (s Snapshot) HasSubmitted(playerID string, round int) bool {
	for _, submission := range s.Submissions {
		if submission.PlayerID == playerID && submission.Round == round {
			return true
		}
	}
	return false
}

// HostDisconnected reports whether the room's host has gone longer than
// timeout without a heartbeat.
func HostDisconnected(players []Player, now time.Time, timeout time.Duration) bool {
	for _, player := range players {
		if player.IsHost {
			return now.Sub(player.LastSeen()) > timeout
		}
	}
	return false
}
