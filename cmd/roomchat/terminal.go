package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/omochice/roomchat/internal/session"
	"github.com/omochice/roomchat/pkg/protocol"
)

var errQuit = errors.New("quit")

// controller is the part of session.Controller the terminal drives.
type controller interface {
	Reconnect() error
	Send(ctx context.Context, text string) error
}

// terminal renders session updates as lines of text and turns input lines
// into commands or chat messages.
type terminal struct {
	out    io.Writer
	roomID string
	origin string

	mu         sync.Mutex
	lastStatus session.Status
	seenStatus bool
	printed    int
	users      []string
}

func newTerminal(out io.Writer, roomID, origin string) *terminal {
	return &terminal{out: out, roomID: roomID, origin: origin}
}

// shareLink returns the web address other participants open to join.
func shareLink(origin, roomID string) string {
	return strings.TrimRight(origin, "/") + "/room/" + url.PathEscape(roomID)
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

// render prints updates until the channel closes or ctx is done.
func (t *terminal) render(ctx context.Context, updates <-chan session.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			t.show(u)
		}
	}
}

func (t *terminal) show(u session.Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.seenStatus || u.Status != t.lastStatus {
		t.seenStatus = true
		t.lastStatus = u.Status
		t.showStatusLocked(u)
	} else if u.Err != nil {
		fmt.Fprintf(t.out, "! ignored malformed room update: %v\n", u.Err)
	}

	if u.Status == session.StatusConnecting {
		t.printed = 0
		t.users = nil
	}
	if u.HasSnapshot {
		t.showSnapshotLocked(u.Snapshot)
	}
}

func (t *terminal) showStatusLocked(u session.Update) {
	switch u.Status {
	case session.StatusConnecting:
		fmt.Fprintln(t.out, "Connecting to room...")
	case session.StatusConnected:
		fmt.Fprintf(t.out, "Connected to room %s\n", t.roomID)
	case session.StatusNotFound:
		fmt.Fprintln(t.out, "Room Not Found")
	case session.StatusError:
		if u.Err != nil {
			fmt.Fprintf(t.out, "Connection Error: %v\n", u.Err)
		} else {
			fmt.Fprintln(t.out, "Connection Error")
		}
		fmt.Fprintln(t.out, "Type /reconnect to try again.")
	case session.StatusDisconnected:
		fmt.Fprintln(t.out, "Disconnected")
		fmt.Fprintln(t.out, "Type /reconnect to rejoin.")
	}
}

// showSnapshotLocked prints messages not shown yet and the presence list
// when it changed. A shorter log than already printed means the room was
// replaced, so everything is printed again.
func (t *terminal) showSnapshotLocked(snap protocol.RoomSessionData) {
	if len(snap.Messages) < t.printed {
		t.printed = 0
	}
	for _, m := range snap.Messages[t.printed:] {
		fmt.Fprintf(t.out, "[%s] %s: %s\n", m.TS.Local().Format("15:04:05"), m.UserID, m.Msg)
	}
	t.printed = len(snap.Messages)

	if !slices.Equal(t.users, snap.ConnectedUsers) {
		t.users = slices.Clone(snap.ConnectedUsers)
		fmt.Fprintf(t.out, "Online (%d): %s\n", len(t.users), strings.Join(t.users, ", "))
	}
}

// readInput handles lines from in until /quit, end of input or ctx is done.
func (t *terminal) readInput(ctx context.Context, in io.Reader, ctl controller) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return errQuit
		case line := <-lines:
			if err := t.handleLine(ctx, line, ctl); err != nil {
				return err
			}
		}
	}
}

func (t *terminal) handleLine(ctx context.Context, line string, ctl controller) error {
	text := strings.TrimSpace(line)
	if text == "" {
		return nil
	}

	switch text {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		t.printf("Commands: /reconnect, /share, /quit. Anything else is sent to the room.")
	case "/share":
		t.printf("Share this room: %s", shareLink(t.origin, t.roomID))
	case "/reconnect":
		if err := ctl.Reconnect(); err != nil {
			if errors.Is(err, session.ErrReconnectNotAllowed) {
				t.printf("Reconnect is only available after a connection error or disconnect.")
				return nil
			}
			return err
		}
	default:
		if err := ctl.Send(ctx, text); err != nil {
			if errors.Is(err, session.ErrNotConnected) {
				t.printf("Not connected; message not sent.")
				return nil
			}
			t.printf("Failed to send message: %v", err)
		}
	}
	return nil
}
