package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"party-play/internal/game"
)

func playerScore(t *testing.T, svc *Service, roomID, playerID string) int {
	t.Helper()
	snap, err := svc.Snapshot(context.Background(), roomID)
	require.NoError(t, err)
	player, ok := snap.Player(playerID)
	require.True(t, ok)
	return player.Score
}

func TestSubmitScoreRequiresPlayingRoom(t *testing.T) {
	svc, _ := newTestService(t)
	room := setupRoom(t, svc, "Ada")

	_, err := svc.SubmitScore(context.Background(), room.id, room.players[1].ID, 0, "hi", SubmissionText)
	assert.ErrorIs(t, err, ErrGameNotInProgress)
}

func TestSubmitScoreIsAtMostOnce(t *testing.T) {
	svc, _ := newTestService(t)
	room := startedRoom(t, svc)
	ctx := context.Background()
	advanceTo(t, svc, room, Position{Round: 2, Phase: PhaseSubmit})
	ada := room.players[1]

	first, err := svc.SubmitScore(ctx, room.id, ada.ID, 2, game.GameScoreContent(1200), SubmissionText)
	require.NoError(t, err)
	assert.Equal(t, 1200, first.BonusPoints)
	assert.Equal(t, 1200, playerScore(t, svc, room.id, ada.ID))

	_, err = svc.SubmitScore(ctx, room.id, ada.ID, 2, game.GameScoreContent(5000), SubmissionText)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Equal(t, 1200, playerScore(t, svc, room.id, ada.ID))

	subs, err := svc.SubmissionsByRound(ctx, room.id, 2)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestSubmitScoreClampsHugeGameScores(t *testing.T) {
	svc, _ := newTestService(t)
	room := startedRoom(t, svc)
	ctx := context.Background()
	advanceTo(t, svc, room, Position{Round: 2, Phase: PhaseSubmit})
	ada := room.players[1]

	sub, err := svc.SubmitScore(ctx, room.id, ada.ID, 2, `{"score":1e300}`, SubmissionText)
	require.NoError(t, err)
	assert.Equal(t, game.MaxScore, sub.BonusPoints)
	assert.Equal(t, game.MaxScore, playerScore(t, svc, room.id, ada.ID))
}

func TestSubmitScoreRaceKeepsOneSubmission(t *testing.T) {
	svc, _ := newTestService(t)
	room := startedRoom(t, svc)
	ctx := context.Background()
	advanceTo(t, svc, room, Position{Round: 2, Phase: PhaseSubmit})
	bob := room.players[2]

	scores := []int{300, 700}
	errs := make([]error, len(scores))
	var wg sync.WaitGroup
	for i, score := range scores {
		wg.Add(1)
		go func(i, score int) {
			defer wg.Done()
			_, errs[i] = svc.SubmitScore(ctx, room.id, bob.ID, 2, game.GameScoreContent(score), SubmissionText)
		}(i, score)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadySubmitted)
	}
	assert.Equal(t, 1, winners)

	subs, err := svc.SubmissionsByRound(ctx, room.id, 2)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, subs[0].BonusPoints, playerScore(t, svc, room.id, bob.ID))
}

func TestSubmitScoreRejectsSpectatorsAndStrangers(t *testing.T) {
	svc, _ := newTestService(t)
	room := startedRoom(t, svc)
	ctx := context.Background()

	_, watcher, err := svc.Join(ctx, room.code, Identity{SessionID: "watch", Name: "Watcher"})
	require.NoError(t, err)

	_, err = svc.SubmitScore(ctx, room.id, watcher.ID, 0, "idea", SubmissionText)
	assert.ErrorIs(t, err, ErrSpectator)

	_, err = svc.SubmitScore(ctx, room.id, "missing", 0, "idea", SubmissionText)
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	_, err = svc.SubmitScore(ctx, room.id, room.host.ID, 0, "idea", SubmissionType("essay"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.SubmitScore(ctx, room.id, room.host.ID, 2, "idea", SubmissionText)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSpeedAnswerScoresByRemainingTime(t *testing.T) {
	svc, clock := newTestService(t)
	room := startedRoom(t, svc)
	ctx := context.Background()
	advanceTo(t, svc, room, Position{Round: 1, Phase: PhaseSubmit})

	clock.Advance(5 * time.Second)
	right, err := svc.SubmitScore(ctx, room.id, room.players[1].ID, 1, " paris", SubmissionText)
	require.NoError(t, err)
	assert.Equal(t, 150, right.BonusPoints)
	assert.Equal(t, 250, playerScore(t, svc, room.id, room.players[1].ID))

	wrong, err := svc.SubmitScore(ctx, room.id, room.players[2].ID, 1, "Lyon", SubmissionText)
	require.NoError(t, err)
	assert.Zero(t, wrong.BonusPoints)
	assert.Zero(t, playerScore(t, svc, room.id, room.players[2].ID))
}

func TestVoteRules(t *testing.T) {
	svc, _ := newTestService(t)
	room := startedRoom(t, svc)
	ctx := context.Background()
	advanceTo(t, svc, room, Position{Round: 0, Phase: PhaseSubmit})
	host, ada, bob := room.players[0], room.players[1], room.players[2]

	adaIdea, err := svc.SubmitScore(ctx, room.id, ada.ID, 0, "The Rusty Comet", SubmissionText)
	require.NoError(t, err)
	_, err = svc.SubmitScore(ctx, room.id, bob.ID, 0, "Space Potato", SubmissionText)
	require.NoError(t, err)
	advanceTo(t, svc, room, Position{Round: 0, Phase: PhaseVote})

	_, err = svc.Vote(ctx, room.id, ada.ID, adaIdea.ID, 0)
	assert.ErrorIs(t, err, ErrSelfVote)

	_, err = svc.Vote(ctx, room.id, host.ID, "missing", 0)
	assert.ErrorIs(t, err, ErrSubmissionNotFound)

	_, err = svc.Vote(ctx, room.id, host.ID, adaIdea.ID, 1)
	assert.ErrorIs(t, err, ErrSubmissionNotFound)

	vote, err := svc.Vote(ctx, room.id, host.ID, adaIdea.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, adaIdea.ID, vote.SubmissionID)
	assert.Equal(t, votePoints, playerScore(t, svc, room.id, ada.ID))

	_, err = svc.Vote(ctx, room.id, host.ID, adaIdea.ID, 0)
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	_, err = svc.Vote(ctx, room.id, bob.ID, adaIdea.ID, 0)
	require.NoError(t, err)

	subs, err := svc.SubmissionsByRound(ctx, room.id, 0)
	require.NoError(t, err)
	for _, sub := range subs {
		if sub.ID == adaIdea.ID {
			assert.Equal(t, 2, sub.Votes)
		}
	}
	assert.Equal(t, 2*votePoints, playerScore(t, svc, room.id, ada.ID))
}

func TestSpectatorsMayVote(t *testing.T) {
	svc, _ := newTestService(t)
	room := startedRoom(t, svc)
	ctx := context.Background()
	advanceTo(t, svc, room, Position{Round: 0, Phase: PhaseSubmit})

	idea, err := svc.SubmitScore(ctx, room.id, room.players[1].ID, 0, "Orbiter", SubmissionText)
	require.NoError(t, err)
	_, watcher, err := svc.Join(ctx, room.code, Identity{SessionID: "watch", Name: "Watcher"})
	require.NoError(t, err)

	_, err = svc.Vote(ctx, room.id, watcher.ID, idea.ID, 0)
	assert.NoError(t, err)
}

func TestVoteAfterFinishIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	room := startedRoom(t, svc)
	finishGame(t, svc, room)

	_, err := svc.Vote(context.Background(), room.id, room.host.ID, "any", 0)
	assert.ErrorIs(t, err, ErrGameNotInProgress)
}

func TestSendReactionRateLimitAndWindow(t *testing.T) {
	svc, clock := newTestService(t)
	room := setupRoom(t, svc, "Ada")
	ctx := context.Background()
	ada := room.players[1]

	_, err := svc.SendReaction(ctx, room.id, ada.ID, "🔥")
	require.NoError(t, err)

	clock.Advance(500 * time.Millisecond)
	_, err = svc.SendReaction(ctx, room.id, ada.ID, "🔥")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = svc.SendReaction(ctx, room.id, room.host.ID, "👏")
	require.NoError(t, err)

	clock.Advance(600 * time.Millisecond)
	_, err = svc.SendReaction(ctx, room.id, ada.ID, "😂")
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx, room.id)
	require.NoError(t, err)
	assert.Len(t, snap.Reactions, 3)

	clock.Advance(11 * time.Second)
	_, err = svc.SendReaction(ctx, room.id, ada.ID, "🎉")
	require.NoError(t, err)
	snap, err = svc.Snapshot(ctx, room.id)
	require.NoError(t, err)
	require.Len(t, snap.Reactions, 1)
	assert.Equal(t, "🎉", snap.Reactions[0].Emoji)

	_, err = svc.SendReaction(ctx, room.id, ada.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestScoreNeverDropsBelowZero(t *testing.T) {
	player := Player{Score: 10}
	addScore(&player, -25)
	assert.Zero(t, player.Score)
}

func TestScoreSaturatesInsteadOfWrapping(t *testing.T) {
	player := Player{Score: maxPlayerScore - 10}
	addScore(&player, game.MaxScore)
	assert.Equal(t, maxPlayerScore, player.Score)
	addScore(&player, game.MaxScore)
	assert.Equal(t, maxPlayerScore, player.Score)
	addScore(&player, -5)
	assert.Equal(t, maxPlayerScore-5, player.Score)
}

func TestTallyMajorityPaysOncePerRound(t *testing.T) {
	svc, _ := newTestService(t)
	room := startedRoom(t, svc)
	ctx := context.Background()
	advanceTo(t, svc, room, Position{Round: 0, Phase: PhaseSubmit})
	host, ada, bob := room.players[0], room.players[1], room.players[2]

	for _, entry := range []struct {
		player  Player
		content string
	}{{host, "Zed"}, {ada, "Ivy"}, {bob, "Zed"}} {
		_, err := svc.SubmitScore(ctx, room.id, entry.player.ID, 0, entry.content, SubmissionText)
		require.NoError(t, err)
	}

	_, err := svc.TallyMajority(ctx, room.id, "session-Ada", 0)
	assert.ErrorIs(t, err, ErrNotHost)

	tally, err := svc.TallyMajority(ctx, room.id, host.SessionID, 0)
	require.NoError(t, err)
	assert.Equal(t, "Zed", tally.Choice)
	assert.Equal(t, map[string]int{"Zed": 2, "Ivy": 1}, tally.Counts)
	assert.ElementsMatch(t, []string{host.ID, bob.ID}, tally.Winners)
	assert.Equal(t, majorityPoints, tally.Points)
	assert.Equal(t, majorityPoints, playerScore(t, svc, room.id, host.ID))
	assert.Equal(t, majorityPoints, playerScore(t, svc, room.id, bob.ID))
	assert.Zero(t, playerScore(t, svc, room.id, ada.ID))

	again, err := svc.TallyMajority(ctx, room.id, host.SessionID, 0)
	require.NoError(t, err)
	assert.Equal(t, "Zed", again.Choice)
	assert.Zero(t, again.Points)
	assert.Equal(t, majorityPoints, playerScore(t, svc, room.id, bob.ID))

	_, err = svc.TallyMajority(ctx, room.id, host.SessionID, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTallyMajorityTieGoesToFirstSubmitted(t *testing.T) {
	submissions := []Submission{
		{PlayerID: "a", Round: 1, Content: "Ivy"},
		{PlayerID: "b", Round: 1, Content: "Zed"},
		{PlayerID: "c", Round: 0, Content: "Zed"},
		{PlayerID: "d", Round: 1, Content: "Zed"},
		{PlayerID: "e", Round: 1, Content: "Ivy"},
	}
	tally := tallyMajority(submissions, 1)
	assert.Equal(t, "Ivy", tally.Choice)
	assert.Equal(t, []string{"a", "e"}, tally.Winners)

	empty := tallyMajority(submissions, 4)
	assert.Empty(t, empty.Choice)
	assert.Empty(t, empty.Winners)
	assert.Zero(t, empty.Points)
}

func TestVoteQueries(t *testing.T) {
	svc, _ := newTestService(t)
	room := startedRoom(t, svc)
	ctx := context.Background()
	advanceTo(t, svc, room, Position{Round: 0, Phase: PhaseSubmit})
	ada, bob := room.players[1], room.players[2]

	idea, err := svc.SubmitScore(ctx, room.id, ada.ID, 0, "Orbiter", SubmissionText)
	require.NoError(t, err)
	advanceTo(t, svc, room, Position{Round: 0, Phase: PhaseVote})
	cast, err := svc.Vote(ctx, room.id, bob.ID, idea.ID, 0)
	require.NoError(t, err)

	votes, err := svc.VotesByRound(ctx, room.id, 0)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, cast.ID, votes[0].ID)

	votes, err = svc.VotesByRound(ctx, room.id, 1)
	require.NoError(t, err)
	assert.Empty(t, votes)

	mine, ok, err := svc.PlayerVote(ctx, room.id, bob.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, idea.ID, mine.SubmissionID)

	_, ok, err = svc.PlayerVote(ctx, room.id, ada.ID, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
