// Package ws provides the WebSocket transport implementation for session clients.
package ws

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/omochice/roomchat/internal/transport"
)

const closeWriteTimeout = time.Second

// Options configures Dial.
type Options struct {
	// Timeout bounds the TCP connect plus the upgrade handshake.
	Timeout   time.Duration
	TLSConfig *tls.Config
}

// Conn adapts a gobwas/ws client connection to transport.Conn.
type Conn struct {
	conn   net.Conn
	rw     io.ReadWriter
	wmu    sync.Mutex
	closed atomic.Bool
	once   sync.Once
	err    error
}

// lockedWriter serializes control-frame replies issued by the reader with
// data frames written by Write.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// Dial opens a WebSocket connection to url. It returns only once the
// upgrade handshake has completed.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	d := ws.Dialer{
		Timeout:   opts.Timeout,
		TLSConfig: opts.TLSConfig,
	}

	conn, br, _, err := d.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	return newConn(conn, br), nil
}

func newConn(conn net.Conn, br *bufio.Reader) *Conn {
	c := &Conn{conn: conn}

	// br holds bytes the server sent right behind the handshake response.
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	c.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{mu: &c.wmu, w: conn}}
	return c
}

// Read implements transport.Conn.
// Reads one text or binary message; control frames are answered internally.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, transport.ErrClosed
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer func() {
		if !stop() {
			_ = c.conn.SetReadDeadline(time.Time{})
		}
	}()

	data, _, err := wsutil.ReadServerData(c.rw)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, c.readError(err)
	}
	return data, nil
}

func (c *Conn) readError(err error) error {
	var closedErr wsutil.ClosedError
	switch {
	case c.closed.Load(),
		errors.As(err, &closedErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %v", transport.ErrClosed, err)
	default:
		return fmt.Errorf("failed to read frame: %w", err)
	}
}

// Write implements transport.Conn.
// Writes a single masked text frame.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closed.Load() {
		return transport.ErrClosed
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	if err := wsutil.WriteClientText(c.conn, data); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: %v", transport.ErrClosed, err)
		}
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close implements transport.Conn.
// Sends a normal-closure frame best-effort, then closes the socket.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)

		c.wmu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
		c.wmu.Unlock()

		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.err = err
		}
	})
	return c.err
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

var _ transport.Conn = (*Conn)(nil)
