package client

import (
	"math/rand/v2"
	"strconv"

	"party-play/internal/game"
	"party-play/internal/room"
)

// Guesser is a Policy for unattended players. It answers speed rounds with
// a random choice (or the free-text Fallback) and votes for a random
// submission that is not its own.
type Guesser struct {
	Fallback string
	Rand     *rand.Rand
}

func (g Guesser) intn(n int) int {
	if g.Rand != nil {
		return g.Rand.IntN(n)
	}
	return rand.IntN(n)
}

func (g Guesser) Answer(round game.Round) (string, room.SubmissionType, bool) {
	switch kind := round.Kind.(type) {
	case game.SpeedAnswer:
		if len(kind.Choices) > 0 {
			return strconv.Itoa(g.intn(len(kind.Choices))), room.SubmissionChoice, true
		}
		if g.Fallback == "" {
			return "", "", false
		}
		return g.Fallback, room.SubmissionText, true
	case game.ChoiceVote:
		if len(kind.Options) > 0 {
			return kind.Options[g.intn(len(kind.Options))], room.SubmissionChoice, true
		}
		if g.Fallback == "" {
			return "", "", false
		}
		return g.Fallback, room.SubmissionText, true
	}
	return "", "", false
}

func (g Guesser) Vote(snap room.Snapshot, playerID string) (string, bool) {
	candidates := make([]string, 0, len(snap.Submissions))
	for _, submission := range snap.Submissions {
		if submission.Round == snap.Room.CurrentRound && submission.PlayerID != playerID {
			candidates = append(candidates, submission.ID)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[g.intn(len(candidates))], true
}
