package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/omochice/roomchat/internal/session"
	"github.com/omochice/roomchat/pkg/protocol"
)

type fakeController struct {
	reconnectErr error
	sendErr      error
	reconnects   int
	sent         []string
}

func (f *fakeController) Reconnect() error {
	f.reconnects++
	return f.reconnectErr
}

func (f *fakeController) Send(ctx context.Context, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func TestShareLink(t *testing.T) {
	tests := []struct {
		origin string
		roomID string
		want   string
	}{
		{"https://chat.example", "abc", "https://chat.example/room/abc"},
		{"https://chat.example/", "abc", "https://chat.example/room/abc"},
		{"http://localhost:8080", "a b/c", "http://localhost:8080/room/a%20b%2Fc"},
	}

	for _, tt := range tests {
		if got := shareLink(tt.origin, tt.roomID); got != tt.want {
			t.Errorf("shareLink(%q, %q) = %q, want %q", tt.origin, tt.roomID, got, tt.want)
		}
	}
}

func TestTerminal_StatusTexts(t *testing.T) {
	tests := []struct {
		update session.Update
		want   []string
	}{
		{session.Update{Status: session.StatusConnecting}, []string{"Connecting to room..."}},
		{session.Update{Status: session.StatusConnected}, []string{"Connected to room lobby"}},
		{session.Update{Status: session.StatusNotFound}, []string{"Room Not Found"}},
		{session.Update{Status: session.StatusError, Err: errors.New("dial failed")}, []string{"Connection Error: dial failed", "/reconnect"}},
		{session.Update{Status: session.StatusDisconnected}, []string{"Disconnected", "/reconnect"}},
	}

	for _, tt := range tests {
		t.Run(tt.update.Status.String(), func(t *testing.T) {
			var buf bytes.Buffer
			term := newTerminal(&buf, "lobby", "https://chat.example")
			term.show(tt.update)
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output %q missing %q", buf.String(), want)
				}
			}
		})
	}
}

func TestTerminal_NotFoundOffersNoReconnect(t *testing.T) {
	var buf bytes.Buffer
	term := newTerminal(&buf, "lobby", "")
	term.show(session.Update{Status: session.StatusNotFound})
	if strings.Contains(buf.String(), "/reconnect") {
		t.Errorf("Not Found output %q offers reconnect", buf.String())
	}
}

func TestTerminal_PrintsOnlyNewMessages(t *testing.T) {
	var buf bytes.Buffer
	term := newTerminal(&buf, "lobby", "")

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	first := protocol.RoomSessionData{
		Messages:       []protocol.Message{{UserID: "alice", Msg: "one", TS: ts}},
		ConnectedUsers: []string{"alice"},
	}
	second := protocol.RoomSessionData{
		Messages: []protocol.Message{
			{UserID: "alice", Msg: "one", TS: ts},
			{UserID: "bob", Msg: "two", TS: ts.Add(time.Second)},
		},
		ConnectedUsers: []string{"alice"},
	}

	term.show(session.Update{Status: session.StatusConnected, Snapshot: first, HasSnapshot: true})
	term.show(session.Update{Status: session.StatusConnected, Snapshot: second, HasSnapshot: true})

	out := buf.String()
	if n := strings.Count(out, "alice: one"); n != 1 {
		t.Errorf("message one printed %d times, want 1\n%s", n, out)
	}
	if !strings.Contains(out, "bob: two") {
		t.Errorf("output missing second message\n%s", out)
	}
	if n := strings.Count(out, "Online (1): alice"); n != 1 {
		t.Errorf("presence printed %d times, want 1\n%s", n, out)
	}
}

func TestTerminal_ReprintsAfterReconnect(t *testing.T) {
	var buf bytes.Buffer
	term := newTerminal(&buf, "lobby", "")
	snap := protocol.RoomSessionData{
		Messages:       []protocol.Message{{UserID: "alice", Msg: "hello", TS: time.Now()}},
		ConnectedUsers: []string{"alice"},
	}

	term.show(session.Update{Status: session.StatusConnected, Snapshot: snap, HasSnapshot: true})
	term.show(session.Update{Status: session.StatusDisconnected})
	term.show(session.Update{Status: session.StatusConnecting})
	term.show(session.Update{Status: session.StatusConnected, Snapshot: snap, HasSnapshot: true})

	if n := strings.Count(buf.String(), "alice: hello"); n != 2 {
		t.Errorf("message printed %d times, want 2\n%s", n, buf.String())
	}
}

func TestTerminal_DecodeErrorWarning(t *testing.T) {
	var buf bytes.Buffer
	term := newTerminal(&buf, "lobby", "")

	term.show(session.Update{Status: session.StatusConnected})
	term.show(session.Update{Status: session.StatusConnected, Err: &protocol.DecodeError{Size: 3, Err: errors.New("bad")}})

	if !strings.Contains(buf.String(), "malformed") {
		t.Errorf("output %q missing decode warning", buf.String())
	}
}

func TestTerminal_HandleLine(t *testing.T) {
	notAllowed := fmt.Errorf("%w from status %s", session.ErrReconnectNotAllowed, session.StatusConnected)

	tests := []struct {
		name       string
		line       string
		ctl        *fakeController
		wantErr    error
		wantOutput string
		wantSent   []string
	}{
		{name: "quit", line: "/quit", ctl: &fakeController{}, wantErr: errQuit},
		{name: "blank", line: "   ", ctl: &fakeController{}},
		{name: "share", line: "/share", ctl: &fakeController{}, wantOutput: "https://chat.example/room/lobby"},
		{name: "reconnect", line: "/reconnect", ctl: &fakeController{}},
		{name: "reconnect refused", line: "/reconnect", ctl: &fakeController{reconnectErr: notAllowed}, wantOutput: "only available"},
		{name: "message", line: " hello ", ctl: &fakeController{}, wantSent: []string{"hello"}},
		{name: "message offline", line: "hello", ctl: &fakeController{sendErr: session.ErrNotConnected}, wantOutput: "Not connected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			term := newTerminal(&buf, "lobby", "https://chat.example")

			err := term.handleLine(context.Background(), tt.line, tt.ctl)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("handleLine() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantOutput != "" && !strings.Contains(buf.String(), tt.wantOutput) {
				t.Errorf("output %q missing %q", buf.String(), tt.wantOutput)
			}
			if len(tt.ctl.sent) != len(tt.wantSent) {
				t.Fatalf("sent = %v, want %v", tt.ctl.sent, tt.wantSent)
			}
			for i := range tt.wantSent {
				if tt.ctl.sent[i] != tt.wantSent[i] {
					t.Errorf("sent[%d] = %q, want %q", i, tt.ctl.sent[i], tt.wantSent[i])
				}
			}
		})
	}
}

func TestTerminal_ReadInputStopsAtEOF(t *testing.T) {
	var buf bytes.Buffer
	term := newTerminal(&buf, "lobby", "")
	ctl := &fakeController{}

	err := term.readInput(context.Background(), strings.NewReader("first\nsecond\n"), ctl)
	if !errors.Is(err, errQuit) {
		t.Fatalf("readInput() error = %v, want errQuit", err)
	}
	if len(ctl.sent) != 2 || ctl.sent[0] != "first" || ctl.sent[1] != "second" {
		t.Errorf("sent = %v, want [first second]", ctl.sent)
	}
}

func TestTerminal_RenderStopsWhenUpdatesClose(t *testing.T) {
	var buf bytes.Buffer
	term := newTerminal(&buf, "lobby", "")
	updates := make(chan session.Update, 2)
	updates <- session.Update{Status: session.StatusConnecting}
	updates <- session.Update{Status: session.StatusNotFound}
	close(updates)

	if err := term.render(context.Background(), updates); err != nil {
		t.Fatalf("render() error = %v", err)
	}
	if !strings.Contains(buf.String(), "Room Not Found") {
		t.Errorf("output %q missing Room Not Found", buf.String())
	}
}
