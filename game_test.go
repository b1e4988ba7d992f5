package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roomWithPlayers(n int) *Room {
	g := newRoom("SANTA42")
	for i := 0; i < n; i++ {
		g.joinPlayer(fmt.Sprintf("player-%d", i), fmt.Sprintf("conn-%d", i), fmt.Sprintf("Player %d", i))
	}
	return g
}

func TestNewRoomDefaults(t *testing.T) {
	g := newRoom("santa42")

	assert.Equal(t, "SANTA42", g.RoomCode)
	assert.Empty(t, g.Players)
	assert.Empty(t, g.Scores)
	assert.Equal(t, phaseLobby, g.Phase)
	assert.Equal(t, 0, g.CurrentRound)
	assert.Empty(t, g.BuzzOrder)
	assert.Nil(t, g.RoundWinner)
	assert.False(t, g.IsStarted)
}

func TestStartRequiresTwoPlayers(t *testing.T) {
	g := roomWithPlayers(1)

	err := g.start()

	assert.ErrorIs(t, err, errNeedTwoPlayers)
	assert.False(t, g.IsStarted)
	assert.Equal(t, phaseLobby, g.Phase)
}

func TestStart(t *testing.T) {
	g := roomWithPlayers(2)

	require.NoError(t, g.start())

	assert.True(t, g.IsStarted)
	assert.Equal(t, 1, g.CurrentRound)
	assert.Equal(t, 0, g.QuestionerIndex)
	assert.Equal(t, phaseVerbal, g.Phase)
	assert.Empty(t, g.BuzzOrder)
	assert.Nil(t, g.RoundWinner)
}

func TestQuestionerIsDerivedFromIndex(t *testing.T) {
	g := roomWithPlayers(3)

	assert.Equal(t, "player-0", g.questioner().ID)

	g.QuestionerIndex = 4
	assert.Equal(t, "player-1", g.questioner().ID)
}

func TestQuestionerEmptyRoom(t *testing.T) {
	g := newRoom("SANTA42")

	assert.Nil(t, g.questioner())
}

func TestBuzzFirstArrivalWinsCycle(t *testing.T) {
	g := roomWithPlayers(4)
	require.NoError(t, g.start())
	g.openBuzzers()

	// The first buzz ends the race; everything after it in the same
	// cycle, duplicate or distinct, hits the closed-buzzers rejection.
	pos, err := g.buzz("player-2")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	for _, id := range []string{"player-2", "player-3", "player-1"} {
		_, err := g.buzz(id)
		assert.ErrorIs(t, err, errBuzzersNotOpen)
	}

	assert.Equal(t, []string{"player-2"}, g.BuzzOrder)

	// Reopening starts a fresh cycle with a fresh race.
	g.openBuzzers()

	pos, err = g.buzz("player-3")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.Equal(t, []string{"player-3"}, g.BuzzOrder)
}

func TestBuzzFirstEntersDecisionPhase(t *testing.T) {
	g := roomWithPlayers(3)
	require.NoError(t, g.start())
	g.openBuzzers()

	pos, err := g.buzz("player-1")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.Equal(t, phaseDecision, g.Phase)

	pos, err = g.buzz("player-2")
	assert.ErrorIs(t, err, errBuzzersNotOpen)
	assert.Equal(t, 0, pos)
	assert.Equal(t, phaseDecision, g.Phase)
}

func TestBuzzRepeatNeverChangesState(t *testing.T) {
	g := roomWithPlayers(3)
	require.NoError(t, g.start())
	g.openBuzzers()

	_, err := g.buzz("player-1")
	require.NoError(t, err)

	pos, err := g.buzz("player-1")
	assert.ErrorIs(t, err, errBuzzersNotOpen)
	assert.Equal(t, 0, pos)
	assert.Equal(t, []string{"player-1"}, g.BuzzOrder)
	assert.Equal(t, phaseDecision, g.Phase)
}

func TestBuzzQuestionerIgnored(t *testing.T) {
	g := roomWithPlayers(2)
	require.NoError(t, g.start())
	g.openBuzzers()

	pos, err := g.buzz("player-0")

	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	assert.Empty(t, g.BuzzOrder)

	// The race stays open for everyone else.
	assert.Equal(t, phaseBuzzing, g.Phase)

	pos, err = g.buzz("player-1")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestBuzzUnknownPlayerIgnored(t *testing.T) {
	g := roomWithPlayers(2)
	require.NoError(t, g.start())
	g.openBuzzers()

	pos, err := g.buzz("stranger")

	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	assert.Empty(t, g.BuzzOrder)
}

func TestBuzzOutsideBuzzingPhase(t *testing.T) {
	g := roomWithPlayers(2)
	require.NoError(t, g.start())

	_, err := g.buzz("player-1")

	assert.ErrorIs(t, err, errBuzzersNotOpen)
	assert.Empty(t, g.BuzzOrder)
}

func TestOpenBuzzersClearsOrder(t *testing.T) {
	g := roomWithPlayers(3)
	require.NoError(t, g.start())
	g.openBuzzers()

	_, err := g.buzz("player-1")
	require.NoError(t, err)

	g.openBuzzers()

	assert.Equal(t, phaseBuzzing, g.Phase)
	assert.Empty(t, g.BuzzOrder)
}

func TestAwardPoint(t *testing.T) {
	g := roomWithPlayers(2)
	require.NoError(t, g.start())

	winner, err := g.awardPoint("player-1")

	require.NoError(t, err)
	assert.Equal(t, "player-1", winner.ID)
	assert.Equal(t, 1, g.Scores["player-1"])
	require.NotNil(t, g.RoundWinner)
	assert.Equal(t, "player-1", *g.RoundWinner)
	assert.Equal(t, phaseAward, g.Phase)
}

func TestAwardPointUnknownPlayer(t *testing.T) {
	g := roomWithPlayers(2)
	require.NoError(t, g.start())

	_, err := g.awardPoint("stranger")

	assert.ErrorIs(t, err, errPlayerNotFound)
	assert.Nil(t, g.RoundWinner)
	assert.Equal(t, phaseVerbal, g.Phase)
}

func TestAwardThenNextRound(t *testing.T) {
	g := roomWithPlayers(2)
	require.NoError(t, g.start())
	g.openBuzzers()

	_, err := g.buzz("player-1")
	require.NoError(t, err)

	before := g.Scores["player-1"]
	_, err = g.awardPoint("player-1")
	require.NoError(t, err)

	g.nextRound()

	assert.Equal(t, before+1, g.Scores["player-1"])
	assert.Equal(t, 2, g.CurrentRound)
	assert.Equal(t, 1, g.QuestionerIndex)
	assert.Empty(t, g.BuzzOrder)
	assert.Nil(t, g.RoundWinner)
	assert.Equal(t, phaseVerbal, g.Phase)
}

func TestQuestionerRotation(t *testing.T) {
	g := roomWithPlayers(3)
	require.NoError(t, g.start())

	for k := 1; k <= 7; k++ {
		g.nextRound()
		assert.Equal(t, fmt.Sprintf("player-%d", k%3), g.questioner().ID, "after %d rounds", k)
	}
}

func TestQuestionerRotationSurvivesLateJoin(t *testing.T) {
	g := roomWithPlayers(2)
	require.NoError(t, g.start())

	g.nextRound()
	require.Equal(t, "player-1", g.questioner().ID)

	// A third player joins mid-game; the questioner is recomputed by
	// modulo against the live list, so the role does not jump.
	g.joinPlayer("player-2", "conn-2", "Player 2")
	assert.Equal(t, "player-1", g.questioner().ID)

	g.nextRound()
	assert.Equal(t, "player-2", g.questioner().ID)
}

func TestJoinPlayerReconnectMerges(t *testing.T) {
	g := roomWithPlayers(2)
	g.Scores["player-1"] = 3
	g.Players[1].IsConnected = false

	rejoined := g.joinPlayer("player-1", "conn-9", "New Nick")

	assert.True(t, rejoined)
	assert.Len(t, g.Players, 2)
	assert.Equal(t, 3, g.Scores["player-1"])

	p := g.playerByID("player-1")
	require.NotNil(t, p)
	assert.Equal(t, "conn-9", p.SocketID)
	assert.Equal(t, "New Nick", p.Nickname)
	assert.True(t, p.IsConnected)
}

func TestPlayerByConn(t *testing.T) {
	g := roomWithPlayers(2)

	p := g.playerByConn("conn-1")
	require.NotNil(t, p)
	assert.Equal(t, "player-1", p.ID)

	assert.Nil(t, g.playerByConn("conn-404"))
}
