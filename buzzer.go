// Hot Buzzer Game
//
// A questioner asks trivia questions out loud, then opens the buzzers.
// Players race to buzz in; the server's receive order is the single source
// of truth for who buzzed first. The questioner awards a point to whoever
// answered correctly, then the questioner role rotates to the next player.
//
// Features:
// - One WebSocket endpoint: /path/ws; rooms are created and joined by command
// - Room codes are a themed word plus two digits, matched case-insensitively
// - Whole-room state is rebroadcast after every change; clients self-heal
// - Players are identified by a client-persisted ID, so reconnects merge
//   into the existing player entry and keep its score
// - Spectators receive broadcasts without appearing in the player list
// - The questioner role is derived from a rotating index, never stored
// - All room mutations are serialized through one coordinator goroutine,
//   which preserves buzz arrival order without locks
// - Idle rooms are reaped after a configurable timeout
// - In-browser QR button to share a room's join URL, backed by go-qrcode

package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`               // "create-room", "join-room", "join-game", "join-spectator", "start-game", "open-buzzers", "buzz", "award-point", "next-round", "request-state"
	ID       string `json:"id,omitempty"`       // join-game
	Nickname string `json:"nickname,omitempty"` // join-game
	RoomCode string `json:"roomCode,omitempty"` // join-room / join-game / join-spectator
	PlayerID string `json:"playerId,omitempty"` // buzz / award-point
}

// GameStateMessage carries the full room snapshot. Always the whole state,
// never a diff.
type GameStateMessage struct {
	Type  string `json:"type"` // "game-state"
	State *Room  `json:"state"`
}

// RoomCreatedMessage is sent to the creator only.
type RoomCreatedMessage struct {
	Type     string `json:"type"` // "room-created"
	RoomCode string `json:"roomCode"`
}

// RoomNotFoundMessage carries the normalized code that failed to resolve.
type RoomNotFoundMessage struct {
	Type     string `json:"type"` // "room-not-found"
	RoomCode string `json:"roomCode"`
}

// BuzzRegisteredMessage is an informational companion to game-state: the
// snapshot carries the authoritative buzz order.
type BuzzRegisteredMessage struct {
	Type     string `json:"type"` // "buzz-registered"
	PlayerID string `json:"playerId"`
	Position int    `json:"position"`
}

// RoundWinnerMessage is broadcast when the questioner awards a point.
type RoundWinnerMessage struct {
	Type       string `json:"type"` // "round-winner"
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

// ErrorMessage is sent to the offending client only.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type Client struct {
	conn   *websocket.Conn
	send   chan any
	connID string

	// closed is only touched from the coordinator goroutine.
	closed bool
}

type command struct {
	client *Client
	msg    ClientMessage
}

// coordinator is the single writer for every room. Commands, disconnects,
// and reaper ticks are all serialized through its select loop, so the
// effective order of buzzes and phase transitions is exactly the receive
// order, with no locks.
type coordinator struct {
	cfg      *Config
	registry *registry
	members  map[string]map[*Client]bool // room code -> subscribed clients

	commands    chan command
	disconnects chan *Client
	done        chan struct{}
}

func newCoordinator(cfg *Config) *coordinator {
	return &coordinator{
		cfg:         cfg,
		registry:    newRegistry(),
		members:     make(map[string]map[*Client]bool),
		commands:    make(chan command),
		disconnects: make(chan *Client),
		done:        make(chan struct{}),
	}
}

func (co *coordinator) run(ctx context.Context) {
	var reap <-chan time.Time
	if co.cfg.sessionTimeout > 0 {
		ticker := time.NewTicker(co.cfg.sessionTimeout / 2)
		defer ticker.Stop()
		reap = ticker.C
	}

	for {
		select {
		case cmd := <-co.commands:
			co.dispatch(cmd)
		case c := <-co.disconnects:
			co.handleDisconnect(c)
		case <-reap:
			co.reapIdleRooms()
		case <-ctx.Done():
			close(co.done)
			return
		}
	}
}

// enqueue hands a command to the run loop, reporting false once the
// coordinator has shut down so the pumps don't block on a dead loop.
func (co *coordinator) enqueue(cmd command) bool {
	select {
	case co.commands <- cmd:
		return true
	case <-co.done:
		return false
	}
}

func (co *coordinator) notifyDisconnect(c *Client) {
	select {
	case co.disconnects <- c:
	case <-co.done:
	}
}

func (co *coordinator) dispatch(cmd command) {
	c := cmd.client

	switch cmd.msg.Type {
	case "create-room":
		co.createRoom(c)
	case "join-room":
		co.joinRoom(c, cmd.msg.RoomCode)
	case "join-game":
		co.joinGame(c, cmd.msg.ID, cmd.msg.Nickname, cmd.msg.RoomCode)
	case "join-spectator":
		co.joinSpectator(c, cmd.msg.RoomCode)
	case "start-game":
		co.startGame(c)
	case "open-buzzers":
		co.openBuzzers(c)
	case "buzz":
		co.buzz(c, cmd.msg.PlayerID)
	case "award-point":
		co.awardPoint(c, cmd.msg.PlayerID)
	case "next-round":
		co.nextRound(c)
	case "request-state":
		co.requestState(c)
	default:
		// ignore unknown types
	}
}

// sendTo delivers to a single client, evicting it if its buffer is full.
func (co *coordinator) sendTo(c *Client, msg any) {
	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		co.evict(c)
	}
}

// evict removes a slow client from its broadcast group and closes its send
// channel. The write pump then closes the socket, and the normal disconnect
// path marks the player offline.
func (co *coordinator) evict(c *Client) {
	if code, ok := co.registry.conns[c.connID]; ok {
		if group, ok := co.members[code]; ok {
			delete(group, c)
			if len(group) == 0 {
				delete(co.members, code)
			}
		}
	}

	c.closed = true
	close(c.send)
}

// subscribe binds a connection to a room's broadcast group. Rebinding to a
// different room drops the old membership first.
func (co *coordinator) subscribe(c *Client, code string) {
	if prev, ok := co.registry.conns[c.connID]; ok && prev != code {
		if group, ok := co.members[prev]; ok {
			delete(group, c)
			if len(group) == 0 {
				delete(co.members, prev)
			}
		}
	}

	co.registry.bind(c.connID, code)

	group, ok := co.members[code]
	if !ok {
		group = make(map[*Client]bool)
		co.members[code] = group
	}
	group[c] = true
}

func (co *coordinator) broadcastMsg(code string, msg any) {
	for c := range co.members[code] {
		co.sendTo(c, msg)
	}
}

func (co *coordinator) broadcast(room *Room) {
	co.broadcastMsg(room.RoomCode, GameStateMessage{Type: "game-state", State: room.snapshot()})
}

func (co *coordinator) sendError(c *Client, message string) {
	co.sendTo(c, ErrorMessage{Type: "error", Message: message})
}

func (co *coordinator) createRoom(c *Client) {
	room := co.registry.create()
	co.subscribe(c, room.RoomCode)

	logf(co.cfg, "ROOMS: Created room %s (%d live)", room.RoomCode, co.registry.len())

	co.sendTo(c, RoomCreatedMessage{Type: "room-created", RoomCode: room.RoomCode})
	co.sendTo(c, GameStateMessage{Type: "game-state", State: room.snapshot()})
}

func (co *coordinator) joinRoom(c *Client, code string) {
	code = normalizeCode(code)

	room := co.registry.get(code)
	if room == nil {
		logf(co.cfg, "ROOMS: Room not found: %s", code)
		co.sendTo(c, RoomNotFoundMessage{Type: "room-not-found", RoomCode: code})
		return
	}

	co.subscribe(c, room.RoomCode)
	room.touch()

	logf(co.cfg, "ROOMS: Client %s joined room %s", c.connID, room.RoomCode)

	co.sendTo(c, GameStateMessage{Type: "game-state", State: room.snapshot()})
}

func (co *coordinator) joinGame(c *Client, id, nickname, code string) {
	room := co.registry.get(code)
	if room == nil {
		co.sendError(c, "Room not found")
		return
	}

	co.subscribe(c, room.RoomCode)
	room.touch()

	if room.joinPlayer(id, c.connID, nickname) {
		logf(co.cfg, "GAMES: Player %q reconnected to room %s", nickname, room.RoomCode)
	} else {
		logf(co.cfg, "GAMES: Player %q joined room %s", nickname, room.RoomCode)
	}

	// The one join path that changes state everyone can see.
	co.broadcast(room)
}

func (co *coordinator) joinSpectator(c *Client, code string) {
	code = normalizeCode(code)

	room := co.registry.get(code)
	if room == nil {
		co.sendTo(c, RoomNotFoundMessage{Type: "room-not-found", RoomCode: code})
		return
	}

	co.subscribe(c, room.RoomCode)
	room.touch()

	logf(co.cfg, "GAMES: Spectator %s joined room %s", c.connID, room.RoomCode)

	co.sendTo(c, GameStateMessage{Type: "game-state", State: room.snapshot()})
}

func (co *coordinator) startGame(c *Client) {
	room := co.registry.roomOf(c.connID)
	if room == nil {
		co.sendError(c, "Not in a room")
		return
	}

	if err := room.start(); err != nil {
		co.sendError(c, err.Error())
		return
	}
	room.touch()

	logf(co.cfg, "GAMES: Game starting in room %s with %d players", room.RoomCode, len(room.Players))

	co.broadcast(room)
}

func (co *coordinator) openBuzzers(c *Client) {
	room := co.registry.roomOf(c.connID)
	if room == nil {
		return
	}

	q := room.questioner()
	if q == nil || q.SocketID != c.connID {
		co.sendError(c, "Only the questioner can open buzzers")
		return
	}

	room.openBuzzers()
	room.touch()

	logf(co.cfg, "GAMES: Buzzers opened in room %s by %q", room.RoomCode, q.Nickname)

	co.broadcast(room)
}

func (co *coordinator) buzz(c *Client, playerID string) {
	room := co.registry.roomOf(c.connID)
	if room == nil {
		return
	}

	position, err := room.buzz(playerID)
	if err != nil {
		co.sendError(c, err.Error())
		return
	}
	if position == 0 {
		// duplicate buzz, questioner buzz, or unknown player
		return
	}
	room.touch()

	logf(co.cfg, "GAMES: Buzz in room %s from %s (position %d)", room.RoomCode, playerID, position)

	co.broadcastMsg(room.RoomCode, BuzzRegisteredMessage{
		Type:     "buzz-registered",
		PlayerID: playerID,
		Position: position,
	})
	co.broadcast(room)
}

func (co *coordinator) awardPoint(c *Client, playerID string) {
	room := co.registry.roomOf(c.connID)
	if room == nil {
		return
	}

	q := room.questioner()
	if q == nil || q.SocketID != c.connID {
		co.sendError(c, "Only the questioner can award points")
		return
	}

	winner, err := room.awardPoint(playerID)
	if err != nil {
		co.sendError(c, err.Error())
		return
	}
	room.touch()

	logf(co.cfg, "GAMES: Point awarded in room %s to %q", room.RoomCode, winner.Nickname)

	co.broadcastMsg(room.RoomCode, RoundWinnerMessage{
		Type:       "round-winner",
		PlayerID:   playerID,
		PlayerName: winner.Nickname,
	})
	co.broadcast(room)
}

func (co *coordinator) nextRound(c *Client) {
	room := co.registry.roomOf(c.connID)
	if room == nil {
		return
	}

	q := room.questioner()
	if q == nil || q.SocketID != c.connID {
		co.sendError(c, "Only the questioner can start the next round")
		return
	}

	room.nextRound()
	room.touch()

	logf(co.cfg, "GAMES: Room %s moving to round %d", room.RoomCode, room.CurrentRound)

	co.broadcast(room)
}

func (co *coordinator) requestState(c *Client) {
	room := co.registry.roomOf(c.connID)
	if room == nil {
		return
	}

	co.sendTo(c, GameStateMessage{Type: "game-state", State: room.snapshot()})
}

// handleDisconnect marks the player offline (matched by connection ID, not
// by the client-persisted player ID) and always removes the binding. The
// player entry and its score stay, so a later join-game with the same ID
// merges back in.
func (co *coordinator) handleDisconnect(c *Client) {
	room := co.registry.roomOf(c.connID)

	if code, ok := co.registry.conns[c.connID]; ok {
		if group, ok := co.members[code]; ok {
			delete(group, c)
			if len(group) == 0 {
				delete(co.members, code)
			}
		}
	}
	co.registry.unbind(c.connID)

	if !c.closed {
		c.closed = true
		close(c.send)
	}

	if room == nil {
		return
	}

	if p := room.playerByConn(c.connID); p != nil {
		p.IsConnected = false
		room.touch()

		logf(co.cfg, "GAMES: Player %q disconnected from room %s", p.Nickname, room.RoomCode)

		co.broadcast(room)
	}
}

// reapIdleRooms closes and deletes rooms idle longer than the configured
// session timeout, disconnecting any remaining clients.
func (co *coordinator) reapIdleRooms() {
	cutoff := time.Now().Add(-co.cfg.sessionTimeout)

	for code, room := range co.registry.rooms {
		if !room.lastActive.Before(cutoff) {
			continue
		}

		logf(co.cfg, "ROOMS: Closing idle room %s", code)

		for c := range co.members[code] {
			co.registry.unbind(c.connID)
			if !c.closed {
				c.closed = true
				close(c.send)
			}
		}
		delete(co.members, code)
		co.registry.delete(code)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(cfg *Config, co *coordinator) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:   conn,
			send:   make(chan any, 8),
			connID: uuid.NewString(),
		}

		logf(cfg, "SERVE: Client %s connected from %s", client.connID, realIP(r))

		go client.writePump()
		client.readPump(co)
	}
}

func (c *Client) readPump(co *coordinator) {
	defer func() {
		co.notifyDisconnect(c)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if !co.enqueue(command{client: c, msg: msg}) {
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for a room's join URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../qr/:code; the join URL is the game path plus the code.
	path := strings.TrimSuffix(r.URL.Path, "/qr/"+code)

	url := scheme + "://" + r.Host + path + "/" + normalizeCode(code)

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerBuzzerGame sets up routes so that:
//   - $path/ws        → WebSocket; rooms are created and joined by command
//   - $path/qr/:code  → PNG QR code linking to that room
func registerBuzzerGame(ctx context.Context, cfg *Config, path string, mux *httprouter.Router) {
	co := newCoordinator(cfg)
	go co.run(ctx)

	mux.GET(cfg.prefix+path+"/ws", serveWS(cfg, co))

	mux.GET(cfg.prefix+path+"/qr/:code", qrHandler)
}
