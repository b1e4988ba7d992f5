package main

import (
	"errors"
	"time"
)

// A round moves through lobby → verbal → buzzing → decision → award, then
// back to verbal for the next round. There is no terminal phase.
type GamePhase string

const (
	phaseLobby    GamePhase = "lobby"
	phaseVerbal   GamePhase = "verbal"
	phaseBuzzing  GamePhase = "buzzing"
	phaseDecision GamePhase = "decision"
	phaseAward    GamePhase = "award"
)

// Rejections surfaced verbatim to the offending client.
var (
	errNeedTwoPlayers = errors.New("Need at least 2 players to start")
	errBuzzersNotOpen = errors.New("Buzzers are not open")
	errPlayerNotFound = errors.New("Player not found")
)

// Player holds the data we store server-side for one participant.
// The ID is chosen and persisted by the client so it survives reconnects;
// SocketID is the current transport connection and changes on every rejoin.
type Player struct {
	ID          string `json:"id"`
	SocketID    string `json:"socketId"`
	Nickname    string `json:"nickname"`
	IsConnected bool   `json:"isConnected"`
}

// Room is the authoritative state of one game. Every field is owned by the
// coordinator goroutine; the whole struct doubles as the broadcast snapshot.
type Room struct {
	RoomCode        string         `json:"roomCode"`
	Players         []*Player      `json:"players"`
	Scores          map[string]int `json:"scores"`
	CurrentRound    int            `json:"currentRound"`
	QuestionerIndex int            `json:"questionerIndex"`
	Phase           GamePhase      `json:"phase"`
	BuzzOrder       []string       `json:"buzzOrder"`
	RoundWinner     *string        `json:"roundWinner"`
	IsStarted       bool           `json:"isStarted"`

	lastActive time.Time
}

func newRoom(code string) *Room {
	return &Room{
		RoomCode:   normalizeCode(code),
		Players:    []*Player{},
		Scores:     make(map[string]int),
		Phase:      phaseLobby,
		BuzzOrder:  []string{},
		lastActive: time.Now(),
	}
}

func (g *Room) touch() {
	g.lastActive = time.Now()
}

// snapshot returns a deep copy for the write pumps to serialize. The live
// room keeps mutating on the coordinator goroutine after a broadcast is
// queued, so nothing reachable from the copy may be shared.
func (g *Room) snapshot() *Room {
	players := make([]*Player, len(g.Players))
	for i, p := range g.Players {
		cp := *p
		players[i] = &cp
	}

	scores := make(map[string]int, len(g.Scores))
	for id, score := range g.Scores {
		scores[id] = score
	}

	buzzOrder := make([]string, len(g.BuzzOrder))
	copy(buzzOrder, g.BuzzOrder)

	var winner *string
	if g.RoundWinner != nil {
		w := *g.RoundWinner
		winner = &w
	}

	return &Room{
		RoomCode:        g.RoomCode,
		Players:         players,
		Scores:          scores,
		CurrentRound:    g.CurrentRound,
		QuestionerIndex: g.QuestionerIndex,
		Phase:           g.Phase,
		BuzzOrder:       buzzOrder,
		RoundWinner:     winner,
		IsStarted:       g.IsStarted,
	}
}

// questioner resolves the current questioner from the rotating index and
// the live player list. Always recomputed, never cached, so it stays valid
// as players join mid-game.
func (g *Room) questioner() *Player {
	if len(g.Players) == 0 {
		return nil
	}
	return g.Players[g.QuestionerIndex%len(g.Players)]
}

func (g *Room) playerByID(id string) *Player {
	for _, p := range g.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (g *Room) playerByConn(connID string) *Player {
	for _, p := range g.Players {
		if p.SocketID == connID {
			return p
		}
	}
	return nil
}

// joinPlayer merges a rejoining player by ID, or appends a new one with a
// zero score. Score entries are never removed, so a reconnecting player
// picks up exactly where they left off.
func (g *Room) joinPlayer(id, connID, nickname string) (rejoined bool) {
	if p := g.playerByID(id); p != nil {
		p.SocketID = connID
		p.Nickname = nickname
		p.IsConnected = true
		return true
	}

	g.Players = append(g.Players, &Player{
		ID:          id,
		SocketID:    connID,
		Nickname:    nickname,
		IsConnected: true,
	})
	g.Scores[id] = 0

	return false
}

func (g *Room) start() error {
	if len(g.Players) < 2 {
		return errNeedTwoPlayers
	}

	g.IsStarted = true
	g.CurrentRound = 1
	g.QuestionerIndex = 0
	g.Phase = phaseVerbal
	g.BuzzOrder = []string{}
	g.RoundWinner = nil

	return nil
}

func (g *Room) openBuzzers() {
	g.Phase = phaseBuzzing
	g.BuzzOrder = []string{}
}

// buzz appends the player to the arrival order and returns their 1-based
// position. A zero position with a nil error means the buzz was silently
// dropped: the questioner buzzing and unknown players are no-ops rather
// than errors. The first buzz flips the phase to decision, so any later
// buzz in the same cycle is rejected by the phase check before the
// duplicate check can matter.
func (g *Room) buzz(playerID string) (int, error) {
	if g.Phase != phaseBuzzing {
		return 0, errBuzzersNotOpen
	}

	for _, id := range g.BuzzOrder {
		if id == playerID {
			return 0, nil
		}
	}

	if q := g.questioner(); q != nil && q.ID == playerID {
		return 0, nil
	}

	if g.playerByID(playerID) == nil {
		return 0, nil
	}

	g.BuzzOrder = append(g.BuzzOrder, playerID)

	// First buzz hands the decision to the questioner.
	if len(g.BuzzOrder) == 1 {
		g.Phase = phaseDecision
	}

	return len(g.BuzzOrder), nil
}

func (g *Room) awardPoint(playerID string) (*Player, error) {
	p := g.playerByID(playerID)
	if p == nil {
		return nil, errPlayerNotFound
	}

	g.Scores[playerID]++
	winner := playerID
	g.RoundWinner = &winner
	g.Phase = phaseAward

	return p, nil
}

func (g *Room) nextRound() {
	if len(g.Players) > 0 {
		g.QuestionerIndex = (g.QuestionerIndex + 1) % len(g.Players)
	}
	g.CurrentRound++
	g.resetForNewRound()
}

func (g *Room) resetForNewRound() {
	g.BuzzOrder = []string{}
	g.RoundWinner = nil
	g.Phase = phaseVerbal
}
