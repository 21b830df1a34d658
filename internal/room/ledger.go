package room

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const eventMajorityTallied = "majority_tallied"

// SubmitScore records the player's one submission for round and credits the
// points in the same step. A second call for the same (player, round) fails
// with ErrAlreadySubmitted and changes nothing.
func (s *Service) SubmitScore(ctx context.Context, roomID, playerID string, round int, content string, kind SubmissionType) (submission Submission, err error) {
	ctx, span := s.startSpan(ctx, "SubmitScore",
		attribute.String("room_id", roomID),
		attribute.String("player_id", playerID),
		attribute.Int("round", round),
	)
	defer func() { endSpan(span, err) }()

	if kind == "" {
		kind = SubmissionText
	}
	if !kind.Valid() {
		return Submission{}, fmt.Errorf("%w: unknown submission type %q", ErrInvalidInput, kind)
	}
	if round < 0 {
		return Submission{}, fmt.Errorf("%w: round must not be negative", ErrInvalidInput)
	}
	if len(content) > maxContentLength {
		return Submission{}, fmt.Errorf("%w: content is too long", ErrInvalidInput)
	}
	if _, err := s.loadByID(ctx, roomID); err != nil {
		return Submission{}, err
	}
	var points int
	_, err = s.store.update(roomID, func(rec *record) error {
		if rec.room.Status != StatusPlaying {
			return ErrGameNotInProgress
		}
		if round > rec.room.CurrentRound {
			return fmt.Errorf("%w: round %d has not started", ErrInvalidInput, round)
		}
		index, ok := rec.playerByID(playerID)
		if !ok {
			return ErrPlayerNotFound
		}
		before := rec.players[index].Score
		now := s.now()
		created, err := applySubmission(rec, index, round, content, kind, now)
		if err != nil {
			return err
		}
		submission = created
		points = rec.players[index].Score - before
		touch(rec, now)
		player := rec.players[index]
		return s.inTx(ctx, func(tx *gorm.DB) error {
			if err := insertSubmission(tx, created); err != nil {
				return err
			}
			if err := savePlayers(tx, player); err != nil {
				return err
			}
			return persistEvent(tx, rec.room, player.ID, "score_submitted", EventPayload{
				SubmissionID: created.ID,
				Points:       points,
			})
		})
	})
	if err != nil {
		return Submission{}, err
	}
	s.log.Info().
		Str("room_id", roomID).
		Str("player_id", playerID).
		Int("round", round).
		Int("points", points).
		Msg("score submitted")
	return submission, nil
}

// Vote casts the player's one vote for the round. The submission's author
// earns votePoints.
func (s *Service) Vote(ctx context.Context, roomID, playerID, submissionID string, round int) (vote Vote, err error) {
	ctx, span := s.startSpan(ctx, "Vote",
		attribute.String("room_id", roomID),
		attribute.String("player_id", playerID),
		attribute.Int("round", round),
	)
	defer func() { endSpan(span, err) }()

	if _, err := s.loadByID(ctx, roomID); err != nil {
		return Vote{}, err
	}
	_, err = s.store.update(roomID, func(rec *record) error {
		if rec.room.Status != StatusPlaying {
			return ErrGameNotInProgress
		}
		if _, ok := rec.playerByID(playerID); !ok {
			return ErrPlayerNotFound
		}
		now := s.now()
		cast, target, err := applyVote(rec, playerID, submissionID, round, now)
		if err != nil {
			return err
		}
		vote = cast
		touch(rec, now)
		submission := rec.submissions[target]
		return s.inTx(ctx, func(tx *gorm.DB) error {
			if err := insertVote(tx, cast, submission); err != nil {
				return err
			}
			if author, ok := rec.playerByID(submission.PlayerID); ok {
				if err := savePlayers(tx, rec.players[author]); err != nil {
					return err
				}
			}
			return persistEvent(tx, rec.room, playerID, "vote_cast", EventPayload{
				SubmissionID: submissionID,
				Points:       votePoints,
			})
		})
	})
	if err != nil {
		return Vote{}, err
	}
	return vote, nil
}

// TallyMajority pays majorityPoints to every player whose submission for
// round matches the most common one. Only the host may tally, and a round
// pays out once; later calls return the same tally without awarding points.
func (s *Service) TallyMajority(ctx context.Context, roomID, sessionID string, round int) (tally Tally, err error) {
	ctx, span := s.startSpan(ctx, "TallyMajority",
		attribute.String("room_id", roomID),
		attribute.Int("round", round),
	)
	defer func() { endSpan(span, err) }()

	if round < 0 {
		return Tally{}, fmt.Errorf("%w: round must not be negative", ErrInvalidInput)
	}
	if _, err := s.loadByID(ctx, roomID); err != nil {
		return Tally{}, err
	}
	paid := false
	_, err = s.store.update(roomID, func(rec *record) error {
		if rec.room.HostSessionID != sessionID {
			return ErrNotHost
		}
		if rec.room.Status == StatusLobby {
			return ErrGameNotInProgress
		}
		if round > rec.room.CurrentRound {
			return fmt.Errorf("%w: round %d has not started", ErrInvalidInput, round)
		}
		tally = tallyMajority(rec.submissions, round)
		if rec.isTallied(round) {
			tally.Points = 0
			return errNoChange
		}
		rec.tallied = append(rec.tallied, round)
		winners := make([]Player, 0, len(tally.Winners))
		for _, id := range tally.Winners {
			if index, ok := rec.playerByID(id); ok {
				addScore(&rec.players[index], tally.Points)
				winners = append(winners, rec.players[index])
			}
		}
		now := s.now()
		touch(rec, now)
		paid = true
		return s.inTx(ctx, func(tx *gorm.DB) error {
			if err := savePlayers(tx, winners...); err != nil {
				return err
			}
			return persistEvent(tx, rec.room, "", eventMajorityTallied, EventPayload{
				Round:   &round,
				Points:  tally.Points,
				Winners: len(winners),
			})
		})
	})
	if err != nil {
		return Tally{}, err
	}
	if paid {
		s.log.Info().
			Str("room_id", roomID).
			Int("round", round).
			Str("choice", tally.Choice).
			Int("winners", len(tally.Winners)).
			Msg("majority tallied")
	}
	return tally, nil
}

// SendReaction broadcasts an emoji from the player. Each player may react
// once per ReactionInterval; reactions older than ReactionWindow drop out of
// the snapshot.
func (s *Service) SendReaction(ctx context.Context, roomID, playerID, emoji string) (reaction Reaction, err error) {
	ctx, span := s.startSpan(ctx, "SendReaction", attribute.String("room_id", roomID))
	defer func() { endSpan(span, err) }()

	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > maxEmojiLength {
		return Reaction{}, fmt.Errorf("%w: emoji is required", ErrInvalidInput)
	}
	if _, err := s.loadByID(ctx, roomID); err != nil {
		return Reaction{}, err
	}
	_, err = s.store.update(roomID, func(rec *record) error {
		index, ok := rec.playerByID(playerID)
		if !ok {
			return ErrPlayerNotFound
		}
		now := s.now()
		if !s.limiter(roomID, playerID).AllowN(now, 1) {
			return ErrRateLimited
		}
		player := rec.players[index]
		reaction = Reaction{
			ID:          uuid.NewString(),
			RoomID:      roomID,
			PlayerID:    player.ID,
			PlayerName:  player.Name,
			PlayerEmoji: player.Emoji,
			Emoji:       emoji,
			CreatedAt:   now,
		}
		pruneReactions(rec, now.Add(-s.opts.ReactionWindow))
		rec.reactions = append(rec.reactions, reaction)
		touch(rec, now)
		return s.inTx(ctx, func(tx *gorm.DB) error {
			return insertReaction(tx, reaction)
		})
	})
	if err != nil {
		return Reaction{}, err
	}
	return reaction, nil
}

func (s *Service) limiter(roomID, playerID string) *rate.Limiter {
	key := roomID + "/" + playerID
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.opts.ReactionInterval), 1)
		s.limiters[key] = limiter
	}
	return limiter
}

func (s *Service) dropLimiters(roomID string) {
	prefix := roomID + "/"
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	for key := range s.limiters {
		if strings.HasPrefix(key, prefix) {
			delete(s.limiters, key)
		}
	}
}

// pruneReactions drops reactions created at or before cutoff and reports
// whether any were removed.
func pruneReactions(rec *record, cutoff time.Time) bool {
	kept := rec.reactions[:0]
	for _, reaction := range rec.reactions {
		if reaction.CreatedAt.After(cutoff) {
			kept = append(kept, reaction)
		}
	}
	removed := len(kept) != len(rec.reactions)
	rec.reactions = kept
	return removed
}
