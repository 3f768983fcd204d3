package roomserver

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ticket binds a session token handed out by the lookup API to a room and
// the user that asked for it.
type ticket struct {
	roomID string
	userID string
}

// Hub manages every room and the session tokens issued for them.
type Hub struct {
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.RWMutex
	rooms   map[string]*Room
	tickets map[string]ticket
}

// NewHub creates an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		now:     time.Now,
		logger:  logger,
		rooms:   make(map[string]*Room),
		tickets: make(map[string]ticket),
	}
}

// CreateRoom registers a new room with a random identifier.
func (h *Hub) CreateRoom() *Room {
	return h.ensureRoom(uuid.NewString())
}

// ensureRoom returns the room with id, creating it when absent.
func (h *Hub) ensureRoom(id string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok {
		return r
	}
	r := newRoom(id, h.now, h.logger)
	h.rooms[id] = r
	return r
}

// Room returns the room with id.
func (h *Hub) Room(id string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[id]
	return r, ok
}

// RoomCount returns number of rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// IssueToken mints a session token for userID in roomID. It reports false
// when the room does not exist.
func (h *Hub) IssueToken(roomID, userID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		return "", false
	}
	token := uuid.NewString()
	h.tickets[token] = ticket{roomID: roomID, userID: userID}
	return token, true
}

// redeem resolves a session token. Tokens stay valid for the life of the
// hub so a dropped socket can rejoin with the same token.
func (h *Hub) redeem(token string) (*Room, string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tickets[token]
	if !ok {
		return nil, "", false
	}
	r, ok := h.rooms[t.roomID]
	if !ok {
		return nil, "", false
	}
	return r, t.userID, true
}
