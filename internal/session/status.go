package session

import (
	"github.com/omochice/roomchat/pkg/protocol"
)

// Status is the connection state a UI renders from. Exactly one holds at a
// time.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
	StatusNotFound
	StatusError
)

// String returns the label shown to users.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	case StatusNotFound:
		return "Not Found"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// CanReconnect reports whether a manual reconnect is offered from s.
// Not Found has no retry.
func (s Status) CanReconnect() bool {
	return s == StatusError || s == StatusDisconnected
}

// Update is published to subscribers on every status or snapshot change.
// Snapshot is shared between subscribers and must be treated as read-only.
type Update struct {
	Status      Status
	Snapshot    protocol.RoomSessionData
	HasSnapshot bool
	// Err is set on Error updates and on connected updates reporting a
	// frame that could not be decoded.
	Err     error
	Attempt uint64
}
