package room

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// votePoints is what the author of a submission earns per vote.
const votePoints = 50

// majorityPoints is what each player who gave the round's most common answer
// earns.
const majorityPoints = 100

// maxPlayerScore is the largest total the players table can hold.
const maxPlayerScore = math.MaxInt32

// addScore saturates at zero and at maxPlayerScore.
func addScore(player *Player, points int) {
	switch {
	case points > 0 && player.Score > maxPlayerScore-points:
		player.Score = maxPlayerScore
	case points < 0 && player.Score < -points:
		player.Score = 0
	default:
		player.Score += points
	}
}

// applySubmission records a submission for the player at index and credits
// the points its round kind awards.
func applySubmission(rec *record, index, round int, content string, kind SubmissionType, now time.Time) (Submission, error) {
	player := &rec.players[index]
	if player.IsSpectator {
		return Submission{}, ErrSpectator
	}
	for _, existing := range rec.submissions {
		if existing.PlayerID == player.ID && existing.Round == round {
			return Submission{}, ErrAlreadySubmitted
		}
	}

	points, bonus := 0, 0
	if definition, ok := rec.game.Round(round); ok && definition.Kind != nil {
		elapsed := 0.0
		if rec.room.RoundStartedAt != nil {
			elapsed = now.Sub(*rec.room.RoundStartedAt).Seconds()
		}
		points, bonus = definition.Kind.Bonus(content, definition.Limit(), elapsed)
	}

	submission := Submission{
		ID:          uuid.NewString(),
		RoomID:      rec.room.ID,
		PlayerID:    player.ID,
		PlayerName:  player.Name,
		PlayerEmoji: player.Emoji,
		Round:       round,
		Content:     content,
		Type:        kind,
		BonusPoints: bonus,
		CreatedAt:   now,
	}
	rec.submissions = append(rec.submissions, submission)
	addScore(player, points)
	return submission, nil
}

// applyVote records the voter's one vote for the round and credits the
// submission's author.
func applyVote(rec *record, voterID, submissionID string, round int, now time.Time) (Vote, int, error) {
	for _, existing := range rec.votes {
		if existing.PlayerID == voterID && existing.Round == round {
			return Vote{}, -1, ErrAlreadyVoted
		}
	}
	target := -1
	for i := range rec.submissions {
		if rec.submissions[i].ID == submissionID && rec.submissions[i].Round == round {
			target = i
			break
		}
	}
	if target < 0 {
		return Vote{}, -1, ErrSubmissionNotFound
	}
	submission := &rec.submissions[target]
	if submission.PlayerID == voterID {
		return Vote{}, -1, ErrSelfVote
	}

	vote := Vote{
		ID:           uuid.NewString(),
		RoomID:       rec.room.ID,
		PlayerID:     voterID,
		SubmissionID: submissionID,
		Round:        round,
		CreatedAt:    now,
	}
	rec.votes = append(rec.votes, vote)
	submission.Votes++
	if author, ok := rec.playerByID(submission.PlayerID); ok {
		addScore(&rec.players[author], votePoints)
	}
	return vote, target, nil
}

// tallyMajority counts the round's submissions by content. The most common
// content wins; a tie goes to the content submitted first.
func tallyMajority(submissions []Submission, round int) Tally {
	tally := Tally{Round: round, Counts: make(map[string]int), Winners: make([]string, 0)}
	for _, submission := range submissions {
		if submission.Round == round {
			tally.Counts[submission.Content]++
		}
	}
	best := 0
	for _, submission := range submissions {
		if count := tally.Counts[submission.Content]; submission.Round == round && count > best {
			best = count
			tally.Choice = submission.Content
		}
	}
	if best == 0 {
		return tally
	}
	for _, submission := range submissions {
		if submission.Round == round && submission.Content == tally.Choice {
			tally.Winners = append(tally.Winners, submission.PlayerID)
		}
	}
	tally.Points = majorityPoints
	return tally
}

func (r *record) isTallied(round int) bool {
	for _, done := range r.tallied {
		if done == round {
			return true
		}
	}
	return false
}
