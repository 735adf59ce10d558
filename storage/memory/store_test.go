package memory

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whoisai/backend/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := zerolog.Nop()
	return NewStore(&logger)
}

func newTestRoom(t *testing.T, s *Store, players ...model.Player) string {
	t.Helper()
	const roomID = "room1234"
	require.NoError(t, s.CreateRoom(roomID))
	for _, p := range players {
		_, err := s.AddPlayer(roomID, p)
		require.NoError(t, err)
	}
	return roomID
}

func TestCreateRoom(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateRoom("abc"))
	assert.ErrorIs(t, s.CreateRoom("abc"), ErrRoomExists)

	_, err := s.Snapshot("abc")
	assert.NoError(t, err)
	_, err = s.Snapshot("unknown")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestAddPlayerKeepsRosterPosition(t *testing.T) {
	s := newTestStore(t)
	roomID := newTestRoom(t, s,
		model.Player{ID: "p1"},
		model.Player{ID: "p2"},
	)

	// re-join overwrites the record, not the position
	snap, err := s.AddPlayer(roomID, model.Player{ID: "p1", Name: "Paula"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, snap.Players)
}

func TestStartRoundResetsRoundState(t *testing.T) {
	s := newTestStore(t)
	roomID := newTestRoom(t, s,
		model.Player{ID: "p1"},
		model.Player{ID: "p2"},
	)

	round, players, err := s.StartRound(roomID, "first question")
	require.NoError(t, err)
	assert.Equal(t, 1, round)
	assert.Equal(t, []string{"p1", "p2"}, players)

	require.NoError(t, s.SubmitAnswer(roomID, "p1", "an answer"))
	_, err = s.SubmitVote(roomID, "p1", "p2")
	require.NoError(t, err)

	round, _, err = s.StartRound(roomID, "second question")
	require.NoError(t, err)
	assert.Equal(t, 2, round)

	snap, err := s.Snapshot(roomID)
	require.NoError(t, err)
	assert.Equal(t, "second question", snap.Question)

	// the old round's vote is gone: a fresh vote decides the tally alone
	tally, err := s.SubmitVote(roomID, "p2", "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", tally.Eliminated)
	assert.Equal(t, map[string]int{"p1": 1}, tally.Counts)

	_, _, err = s.StartRound("unknown", "q")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestSubmitAnswerLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	roomID := newTestRoom(t, s, model.Player{ID: "p1"})

	require.NoError(t, s.SubmitAnswer(roomID, "p1", "first"))
	require.NoError(t, s.SubmitAnswer(roomID, "p1", "second"))

	r, err := s.get(roomID)
	require.NoError(t, err)
	assert.Equal(t, "second", r.answers["p1"])

	assert.ErrorIs(t, s.SubmitAnswer(roomID, "ghost", "boo"), ErrPlayerNotFound)
	assert.ErrorIs(t, s.SubmitAnswer("unknown", "p1", "x"), ErrRoomNotFound)
}

func TestSubmitVotePlurality(t *testing.T) {
	s := newTestStore(t)
	roomID := newTestRoom(t, s,
		model.Player{ID: "a"},
		model.Player{ID: "b"},
		model.Player{ID: "c"},
		model.Player{ID: "x"},
		model.Player{ID: "y", IsAI: true},
	)

	_, err := s.SubmitVote(roomID, "a", "x")
	require.NoError(t, err)
	_, err = s.SubmitVote(roomID, "b", "x")
	require.NoError(t, err)
	tally, err := s.SubmitVote(roomID, "c", "y")
	require.NoError(t, err)

	assert.Equal(t, "x", tally.Eliminated)
	assert.False(t, tally.WasAI)
	assert.Equal(t, map[string]int{"x": 2, "y": 1}, tally.Counts)
}

func TestSubmitVoteTieBreaksTowardFirstVoted(t *testing.T) {
	s := newTestStore(t)
	roomID := newTestRoom(t, s,
		model.Player{ID: "a"},
		model.Player{ID: "b"},
		model.Player{ID: "x"},
		model.Player{ID: "y"},
	)

	_, err := s.SubmitVote(roomID, "a", "x")
	require.NoError(t, err)
	tally, err := s.SubmitVote(roomID, "b", "y")
	require.NoError(t, err)

	// exact tie: x received its vote first
	assert.Equal(t, "x", tally.Eliminated)
}

func TestSubmitVoteOverwriteKeepsVoterPosition(t *testing.T) {
	s := newTestStore(t)
	roomID := newTestRoom(t, s,
		model.Player{ID: "a"},
		model.Player{ID: "b"},
		model.Player{ID: "x"},
		model.Player{ID: "y"},
	)

	_, err := s.SubmitVote(roomID, "a", "x")
	require.NoError(t, err)
	_, err = s.SubmitVote(roomID, "b", "y")
	require.NoError(t, err)

	// a re-votes for y: still one vote per candidate, but a's slot comes
	// first in the tally, so the tie now leans toward y
	tally, err := s.SubmitVote(roomID, "a", "y")
	require.NoError(t, err)
	assert.Equal(t, "y", tally.Eliminated)
	assert.Equal(t, map[string]int{"y": 2}, tally.Counts)
}

func TestSubmitVoteValidatesMembers(t *testing.T) {
	s := newTestStore(t)
	roomID := newTestRoom(t, s, model.Player{ID: "a"}, model.Player{ID: "b"})

	_, err := s.SubmitVote(roomID, "ghost", "a")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
	_, err = s.SubmitVote(roomID, "a", "ghost")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
	_, err = s.SubmitVote("unknown", "a", "b")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestSubmitVoteEliminatedWasAI(t *testing.T) {
	s := newTestStore(t)
	roomID := newTestRoom(t, s,
		model.Player{ID: "human"},
		model.Player{ID: "bot", IsAI: true},
	)

	tally, err := s.SubmitVote(roomID, "human", "bot")
	require.NoError(t, err)
	assert.Equal(t, "bot", tally.Eliminated)
	assert.True(t, tally.WasAI)
}

func TestGenerateAIAnswers(t *testing.T) {
	s := newTestStore(t)
	roomID := newTestRoom(t, s,
		model.Player{ID: "human"},
		model.Player{ID: "bot1", IsAI: true},
		model.Player{ID: "bot2", IsAI: true},
	)
	pool := []string{"alpha", "beta"}

	answers, err := s.GenerateAIAnswers(roomID, pool)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, "bot1", answers[0].PlayerID)
	assert.Equal(t, "bot2", answers[1].PlayerID)
	for _, a := range answers {
		assert.Contains(t, pool, a.Text)
	}

	r, err := s.get(roomID)
	require.NoError(t, err)
	_, ok := r.answers["human"]
	assert.False(t, ok, "human entries must be left untouched")

	_, err = s.GenerateAIAnswers("unknown", pool)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestPruneIdle(t *testing.T) {
	s := newTestStore(t)
	ttl := 10 * time.Minute

	require.NoError(t, s.CreateRoom("stale"))
	require.NoError(t, s.CreateRoom("busy"))
	require.NoError(t, s.CreateRoom("fresh"))

	s.MarkActive("busy")
	s.MarkActive("fresh")
	s.MarkIdle("fresh")

	now := time.Now().Add(2 * ttl)
	pruned := s.PruneIdle(now, ttl)
	assert.ElementsMatch(t, []string{"stale", "fresh"}, pruned)

	_, err := s.Snapshot("busy")
	assert.NoError(t, err)
	_, err = s.Snapshot("stale")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	// a room that only recently emptied survives
	s.MarkIdle("busy")
	assert.Empty(t, s.PruneIdle(time.Now(), ttl))
}

func TestMarkIdleUnknownRoomIsNoop(t *testing.T) {
	s := newTestStore(t)
	s.MarkIdle("unknown")
	s.MarkActive("unknown")
}
