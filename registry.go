package main

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Room code vocabulary. Codes are a word plus a two-digit suffix, and are
// matched case-insensitively everywhere.
var roomWords = []string{
	"SANTA", "RUDOLPH", "FROSTY", "SNOWMAN", "JINGLE", "BELLS", "HOLLY",
	"NOEL", "CANDY", "TINSEL", "STAR", "ANGEL", "SLEIGH", "GIFT", "MERRY",
	"JOLLY", "WINTER", "CLAUS", "DASHER", "DANCER", "PRANCER", "VIXEN",
	"COMET", "CUPID", "DONNER", "BLITZEN", "NUTCRACKER", "MISTLETOE",
}

func normalizeCode(code string) string {
	return strings.ToUpper(code)
}

// registry owns the mapping from room code to room, and from connection ID
// to room code. It is only ever touched from the coordinator goroutine.
type registry struct {
	rooms map[string]*Room
	conns map[string]string
}

func newRegistry() *registry {
	return &registry{
		rooms: make(map[string]*Room),
		conns: make(map[string]string),
	}
}

// newRoomCode generates a crypto-random room code and ensures it doesn't
// collide with existing rooms.
func (reg *registry) newRoomCode() string {
	for {
		buf := make([]byte, 2)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		word := roomWords[int(buf[0])%len(roomWords)]
		code := fmt.Sprintf("%s%02d", word, int(buf[1])%100)

		if _, exists := reg.rooms[code]; !exists {
			return code
		}
	}
}

func (reg *registry) create() *Room {
	code := reg.newRoomCode()
	room := newRoom(code)
	reg.rooms[code] = room

	return room
}

func (reg *registry) get(code string) *Room {
	return reg.rooms[normalizeCode(code)]
}

func (reg *registry) delete(code string) {
	delete(reg.rooms, normalizeCode(code))
}

// bind records that a connection belongs to a room. Rebinding overwrites.
func (reg *registry) bind(connID, code string) {
	reg.conns[connID] = normalizeCode(code)
}

func (reg *registry) unbind(connID string) {
	delete(reg.conns, connID)
}

// roomOf resolves a connection to its room, or nil if the connection is
// unbound or the room has since been closed.
func (reg *registry) roomOf(connID string) *Room {
	code, ok := reg.conns[connID]
	if !ok {
		return nil
	}
	return reg.rooms[code]
}

func (reg *registry) len() int {
	return len(reg.rooms)
}
