package ws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/omochice/roomchat/internal/transport"
	"github.com/omochice/roomchat/internal/transport/ws"
	"nhooyr.io/websocket"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestDial_Read(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		if err := c.Write(context.Background(), websocket.MessageText, []byte(`{"messages":[]}`)); err != nil {
			t.Errorf("failed to write: %v", err)
			return
		}
		c.Read(context.Background())
	}))
	defer server.Close()

	conn, err := ws.Dial(context.Background(), wsURL(server), ws.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	data, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != `{"messages":[]}` {
		t.Errorf("Read() = %q, want %q", string(data), `{"messages":[]}`)
	}
}

func TestConn_Write(t *testing.T) {
	received := make(chan []byte, 1)
	msgTypes := make(chan websocket.MessageType, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		typ, data, err := c.Read(context.Background())
		if err != nil {
			return
		}
		msgTypes <- typ
		received <- data
	}))
	defer server.Close()

	conn, err := ws.Dial(context.Background(), wsURL(server), ws.Options{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.Write(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "hello" {
			t.Errorf("server received %q, want %q", string(data), "hello")
		}
		if typ := <-msgTypes; typ != websocket.MessageText {
			t.Errorf("server received message type %v, want text", typ)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestConn_Read_PeerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusGoingAway, "bye")
	}))
	defer server.Close()

	conn, err := ws.Dial(context.Background(), wsURL(server), ws.Options{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	_, err = conn.Read(context.Background())
	if !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Read() error = %v, want ErrClosed", err)
	}
}

func TestConn_Read_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		c.Read(context.Background())
	}))
	defer server.Close()

	conn, err := ws.Dial(context.Background(), wsURL(server), ws.Options{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = conn.Read(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Read() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestConn_Close_Idempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		c.Read(context.Background())
	}))
	defer server.Close()

	conn, err := ws.Dial(context.Background(), wsURL(server), ws.Options{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if err := conn.Write(context.Background(), []byte("late")); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Write() after Close() error = %v, want ErrClosed", err)
	}
	if _, err := conn.Read(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Read() after Close() error = %v, want ErrClosed", err)
	}
}

func TestDial_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "authentication required", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := ws.Dial(context.Background(), wsURL(server), ws.Options{})
	if err == nil {
		t.Fatal("expected error when the server rejects the upgrade")
	}
}

func TestDial_Refused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	_, err := ws.Dial(context.Background(), url, ws.Options{Timeout: time.Second})
	if err == nil {
		t.Fatal("expected error when dialing a closed listener")
	}
}

func TestConn_RemoteAddr(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		c.Read(context.Background())
	}))
	defer server.Close()

	conn, err := ws.Dial(context.Background(), wsURL(server), ws.Options{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if addr := conn.RemoteAddr(); !strings.Contains(addr, ":") {
		t.Errorf("RemoteAddr() = %q, expected host:port format", addr)
	}
}
