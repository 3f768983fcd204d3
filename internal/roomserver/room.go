package roomserver

import (
	"sync"
	"time"

	"github.com/omochice/roomchat/pkg/protocol"
	"github.com/rs/zerolog"
)

// member is one open room socket.
type member struct {
	userID   string
	outgoing chan []byte
	kick     func()
}

// Room holds the message log and the open sockets of one room. Every change
// is followed by a full snapshot broadcast.
type Room struct {
	id     string
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.RWMutex
	messages []protocol.Message
	members  []*member
}

func newRoom(id string, now func() time.Time, logger zerolog.Logger) *Room {
	return &Room{
		id:     id,
		now:    now,
		logger: logger.With().Str("room", id).Logger(),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string {
	return r.id
}

// Register adds m and broadcasts the new presence.
func (r *Room) Register(m *member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = append(r.members, m)
	r.logger.Info().Str("user", m.userID).Msg("user joined")
	r.broadcastLocked()
}

// Unregister removes m and broadcasts the new presence.
func (r *Room) Unregister(m *member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.members {
		if other == m {
			r.members = append(r.members[:i], r.members[i+1:]...)
			r.logger.Info().Str("user", m.userID).Msg("user left")
			r.broadcastLocked()
			return
		}
	}
}

// Evict closes every socket userID holds in the room and returns how many
// were closed. Members leave through the normal Unregister path.
func (r *Room) Evict(userID string) int {
	r.mu.RLock()
	var kicks []func()
	for _, m := range r.members {
		if m.userID == userID && m.kick != nil {
			kicks = append(kicks, m.kick)
		}
	}
	r.mu.RUnlock()

	for _, kick := range kicks {
		kick()
	}
	return len(kicks)
}

// Post appends a message stamped with the server clock.
func (r *Room) Post(userID, text string) protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := protocol.Message{UserID: userID, Msg: text, TS: r.now().UTC()}
	r.messages = append(r.messages, msg)
	r.broadcastLocked()
	return msg
}

// Snapshot returns the current room state.
func (r *Room) Snapshot() protocol.RoomSessionData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// MemberCount returns the number of open sockets.
func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// snapshotLocked lists each connected user once, in join order.
func (r *Room) snapshotLocked() protocol.RoomSessionData {
	snap := protocol.RoomSessionData{
		Messages:       append([]protocol.Message(nil), r.messages...),
		ConnectedUsers: make([]string, 0, len(r.members)),
	}
	seen := make(map[string]bool, len(r.members))
	for _, m := range r.members {
		if seen[m.userID] {
			continue
		}
		seen[m.userID] = true
		snap.ConnectedUsers = append(snap.ConnectedUsers, m.userID)
	}
	return snap
}

func (r *Room) broadcastLocked() {
	data, err := protocol.EncodeSnapshot(r.snapshotLocked())
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode snapshot")
		return
	}

	for _, m := range r.members {
		select {
		case m.outgoing <- data:
		default:
			r.logger.Warn().Str("user", m.userID).Msg("member channel full, skipping")
		}
	}
}
