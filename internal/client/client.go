// Package client provides the session client: one authenticated, typed
// connection to a room host.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/omochice/roomchat/internal/transport"
	"github.com/omochice/roomchat/internal/transport/ws"
	"github.com/omochice/roomchat/pkg/protocol"
	"github.com/rs/zerolog"
)

// Event is delivered on Client.Events. It is one of MessageEvent,
// DecodeErrorEvent or ClosedEvent.
type Event interface {
	isEvent()
}

// MessageEvent carries one decoded inbound snapshot.
type MessageEvent struct {
	Snapshot protocol.RoomSessionData
}

// DecodeErrorEvent reports an inbound frame that was not a valid snapshot.
// The connection stays open.
type DecodeErrorEvent struct {
	Err *protocol.DecodeError
}

// ClosedEvent is the last event of every client. Local is true when Close
// was called; otherwise Err holds the reason the transport went away.
type ClosedEvent struct {
	Err   error
	Local bool
}

func (MessageEvent) isEvent()     {}
func (DecodeErrorEvent) isEvent() {}
func (ClosedEvent) isEvent()      {}

// DialFunc opens the transport for an endpoint URL.
type DialFunc func(ctx context.Context, endpoint string) (transport.Conn, error)

// Option configures a Dialer.
type Option func(*Dialer)

// WithDialFunc replaces the WebSocket transport.
func WithDialFunc(fn DialFunc) Option {
	return func(d *Dialer) {
		d.dial = fn
	}
}

// WithLogger sets the logger handed to every client.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dialer) {
		d.logger = logger
	}
}

// Dialer creates session clients.
type Dialer struct {
	cfg    Config
	dial   DialFunc
	logger zerolog.Logger
}

// NewDialer creates a Dialer for the given configuration.
func NewDialer(cfg Config, opts ...Option) *Dialer {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	d := &Dialer{
		cfg:    cfg,
		logger: zerolog.Nop(),
	}
	d.dial = func(ctx context.Context, endpoint string) (transport.Conn, error) {
		return ws.Dial(ctx, endpoint, ws.Options{Timeout: cfg.ConnectTimeout})
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect opens a connection to host authenticated with token. It returns
// only after the transport reports open; any earlier failure is a
// *ConnectError.
func (d *Dialer) Connect(ctx context.Context, host, token string) (*Client, error) {
	endpoint := redactedEndpoint(d.cfg.Environment, host)
	if host == "" || token == "" {
		return nil, &ConnectError{Endpoint: endpoint, Err: errors.New("missing host or token")}
	}

	if d.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := d.dial(ctx, Endpoint(d.cfg.Environment, host, token))
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}

	id := uuid.NewString()
	c := &Client{
		id:     id,
		host:   host,
		conn:   conn,
		cfg:    d.cfg,
		logger: d.logger.With().Str("module", "client").Str("client_id", id).Str("host", host).Logger(),
		events: make(chan Event, d.cfg.EventBuffer),
		done:   make(chan struct{}),
	}
	c.logger.Debug().Str("remote", conn.RemoteAddr()).Msg("transport open")

	go c.receiveMessages()

	return c, nil
}

// Client is a live connection to one room host. It owns exactly one
// transport and cannot be reused after it closes.
type Client struct {
	id     string
	host   string
	conn   transport.Conn
	cfg    Config
	logger zerolog.Logger
	events chan Event

	mu          sync.RWMutex
	closed      bool
	closedLocal bool
	done        chan struct{}
	closeOnce   sync.Once
	closeErr    error
}

// ID uniquely identifies this client instance.
func (c *Client) ID() string {
	return c.id
}

// Host returns the host the client was dialed with.
func (c *Client) Host() string {
	return c.host
}

// Events returns the channel of inbound events. Snapshots arrive in frame
// order; a single ClosedEvent is sent last and the channel is then closed.
// The channel must be drained for the client to release its reader.
func (c *Client) Events() <-chan Event {
	return c.events
}

// IsConnected reports whether the transport is still open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Send writes text as a single raw frame. There is no acknowledgement.
func (c *Client) Send(ctx context.Context, text string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if c.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.WriteTimeout)
		defer cancel()
	}

	if err := c.conn.Write(ctx, []byte(text)); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close shuts the transport down. Frames queued but not yet written may be
// lost. Calling Close more than once is a no-op.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closedLocal = true
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		if err := c.conn.Close(); err != nil {
			c.closeErr = fmt.Errorf("failed to close transport: %w", err)
		}
		c.logger.Debug().Msg("closed locally")
	})
	return c.closeErr
}

func (c *Client) receiveMessages() {
	defer close(c.events)

	for {
		data, err := c.conn.Read(context.Background())
		if err != nil {
			c.finish(err)
			return
		}

		snap, err := protocol.DecodeSnapshot(data)
		if err != nil {
			var decodeErr *protocol.DecodeError
			if !errors.As(err, &decodeErr) {
				decodeErr = &protocol.DecodeError{Size: len(data), Err: err}
			}
			c.logger.Warn().Err(err).Msg("Failed to decode snapshot")
			c.emit(DecodeErrorEvent{Err: decodeErr})
			continue
		}

		c.emit(MessageEvent{Snapshot: snap})
	}
}

// emit drops data events once Close has been called; the caller asked for
// the connection to go away.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) finish(readErr error) {
	c.mu.Lock()
	local := c.closedLocal
	c.closed = true
	c.mu.Unlock()

	ev := ClosedEvent{Local: local}
	if !local {
		ev.Err = readErr
		c.logger.Info().Err(readErr).Msg("closed by remote")
		_ = c.conn.Close()
	}
	c.events <- ev
}
