// Package protocol defines the room session data model and its wire codec.
package protocol

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Message represents a single chat message in a room.
type Message struct {
	UserID string    `json:"userId"`
	Msg    string    `json:"msg"`
	TS     time.Time `json:"ts"`
}

// RoomSessionData is a full-replacement snapshot of room state.
// Every inbound frame carries one and supersedes the previous one entirely.
type RoomSessionData struct {
	Messages       []Message `json:"messages"`
	ConnectedUsers []string  `json:"connectedUsers"`
}

// ConnectionInfo is the connection target returned by a room lookup.
// An empty Host or Token means the room was not found.
type ConnectionInfo struct {
	Host  string `json:"host,omitempty"`
	Token string `json:"token,omitempty"`
}

// Found reports whether the lookup produced a connectable target.
func (ci ConnectionInfo) Found() bool {
	return ci.Host != "" && ci.Token != ""
}

// DecodeError is returned when an inbound frame is not a valid snapshot.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode snapshot (%d bytes): %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var nullPayload = []byte("null")

// DecodeSnapshot decodes a JSON text frame into a RoomSessionData.
// Missing arrays decode as empty slices so callers never see nil.
func DecodeSnapshot(data []byte) (RoomSessionData, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, nullPayload) {
		return RoomSessionData{}, &DecodeError{Size: len(data), Err: fmt.Errorf("empty payload")}
	}

	var snap RoomSessionData
	if err := json.Unmarshal(trimmed, &snap); err != nil {
		return RoomSessionData{}, &DecodeError{Size: len(data), Err: err}
	}
	if snap.Messages == nil {
		snap.Messages = []Message{}
	}
	if snap.ConnectedUsers == nil {
		snap.ConnectedUsers = []string{}
	}
	return snap, nil
}

// EncodeSnapshot encodes a RoomSessionData into a JSON text frame.
func EncodeSnapshot(snap RoomSessionData) ([]byte, error) {
	if snap.Messages == nil {
		snap.Messages = []Message{}
	}
	if snap.ConnectedUsers == nil {
		snap.ConnectedUsers = []string{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Clone returns a deep copy so holders never share backing arrays.
func (s RoomSessionData) Clone() RoomSessionData {
	out := RoomSessionData{
		Messages:       make([]Message, len(s.Messages)),
		ConnectedUsers: make([]string, len(s.ConnectedUsers)),
	}
	copy(out.Messages, s.Messages)
	copy(out.ConnectedUsers, s.ConnectedUsers)
	return out
}
