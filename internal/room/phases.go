package room

import (
	"time"

	"party-play/internal/game"
)

type phaseTransition struct {
	next func(round game.Round) Phase
}

// phaseTransitions covers every phase except scores, which either opens the
// next round or finishes the game.
var phaseTransitions = map[Phase]phaseTransition{
	PhaseIntro: {
		next: func(game.Round) Phase { return PhaseSubmit },
	},
	PhaseSubmit: {
		next: func(round game.Round) Phase {
			if round.Kind != nil && round.Kind.NeedsVoting() {
				return PhaseVote
			}
			return PhaseReveal
		},
	},
	PhaseVote: {
		next: func(game.Round) Phase { return PhaseReveal },
	},
	PhaseReveal: {
		next: func(game.Round) Phase { return PhaseScores },
	},
}

// advance moves a playing room one step forward and stamps the phase start.
func advance(rec *record, at time.Time) {
	room := &rec.room
	if room.RoundPhase == PhaseScores {
		rec.positions = nil
		if room.CurrentRound+1 < rec.game.TotalRounds() {
			room.CurrentRound++
			setPhaseAt(room, PhaseIntro, at)
			return
		}
		room.Status = StatusFinished
		stamp(room, at)
		return
	}
	transition, ok := phaseTransitions[room.RoundPhase]
	if !ok {
		setPhaseAt(room, PhaseIntro, at)
		return
	}
	round, _ := rec.game.Round(room.CurrentRound)
	setPhaseAt(room, transition.next(round), at)
}

func setPhaseAt(room *Room, phase Phase, at time.Time) {
	room.RoundPhase = phase
	stamp(room, at)
}

func stamp(room *Room, at time.Time) {
	started := at
	room.RoundStartedAt = &started
}

// phaseOrder ranks a position so that later steps compare greater.
func phaseOrder(position Position) int {
	rank := map[Phase]int{
		PhaseIntro:  0,
		PhaseSubmit: 1,
		PhaseVote:   2,
		PhaseReveal: 3,
		PhaseScores: 4,
	}[position.Phase]
	return position.Round*10 + rank
}

// After reports whether p is a later step than other.
func (p Position) After(other Position) bool {
	return phaseOrder(p) > phaseOrder(other)
}
