// Package session implements the controller that turns a room identifier
// into a live session: it resolves the room, opens a session client, tracks
// the connection status, and republishes inbound snapshots to subscribers.
//
// The controller never reconnects on its own. Every NotFound, Error and
// Disconnected status stays put until Join is called with a different room
// or token, or Reconnect is called.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/resolver"
	"github.com/omochice/roomchat/pkg/protocol"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/omochice/roomchat/internal/session"

var (
	// ErrNotConnected is returned by Send unless the status is Connected.
	ErrNotConnected = errors.New("not connected to room")
	// ErrReconnectNotAllowed is returned by Reconnect outside Error and
	// Disconnected.
	ErrReconnectNotAllowed = errors.New("reconnect not allowed")
	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("session controller closed")
)

// Client is the part of a session client the controller drives.
type Client interface {
	ID() string
	Events() <-chan client.Event
	Send(ctx context.Context, text string) error
	Close() error
}

// Connector opens a session client for a resolved host and token.
type Connector interface {
	Connect(ctx context.Context, host, token string) (Client, error)
}

// ConnectorFunc adapts an ordinary function to a Connector.
type ConnectorFunc func(ctx context.Context, host, token string) (Client, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, host, token string) (Client, error) {
	return f(ctx, host, token)
}

// DialerConnector adapts a client.Dialer to a Connector.
func DialerConnector(d *client.Dialer) Connector {
	return ConnectorFunc(func(ctx context.Context, host, token string) (Client, error) {
		c, err := d.Connect(ctx, host, token)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithTracerProvider sets the provider used for connection attempt spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Controller) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// Controller owns at most one live session client and the status derived
// from it.
type Controller struct {
	resolver  resolver.Resolver
	connector Connector
	logger    zerolog.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	roomID      string
	authToken   string
	joined      bool
	closed      bool
	attempt     uint64
	status      Status
	snapshot    protocol.RoomSessionData
	hasSnapshot bool
	current     Client
	subs        map[*subscriber]struct{}
}

// New creates a controller. Nothing happens until Join is called.
func New(r resolver.Resolver, conn Connector, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		resolver:  r,
		connector: conn,
		logger:    zerolog.Nop(),
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusConnecting,
		subs:      make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("module", "session").Logger()
	return c
}

// Join starts a connection attempt for roomID with authToken. Calling it
// again with the same pair is a no-op; a different pair supersedes any
// attempt in flight and tears down the current client.
func (c *Controller) Join(roomID, authToken string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.joined && c.roomID == roomID && c.authToken == authToken {
		c.mu.Unlock()
		return nil
	}
	c.roomID = roomID
	c.authToken = authToken
	c.joined = true
	seq, prev := c.beginLocked()
	c.mu.Unlock()

	c.release(prev)
	go c.connectToRoom(seq, roomID, authToken)
	return nil
}

// Reconnect starts a new attempt for the current room. It is only valid
// from Error and Disconnected.
func (c *Controller) Reconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.joined || !c.status.CanReconnect() {
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("%w from status %s", ErrReconnectNotAllowed, status)
	}
	roomID, authToken := c.roomID, c.authToken
	seq, prev := c.beginLocked()
	c.mu.Unlock()

	c.release(prev)
	go c.connectToRoom(seq, roomID, authToken)
	return nil
}

// beginLocked starts a new attempt: it publishes Connecting, fences older
// attempts and detaches the current client for the caller to close.
func (c *Controller) beginLocked() (uint64, Client) {
	c.attempt++
	prev := c.current
	c.current = nil
	c.snapshot = protocol.RoomSessionData{}
	c.hasSnapshot = false
	c.setStatusLocked(StatusConnecting, nil)
	c.wg.Add(1)
	return c.attempt, prev
}

func (c *Controller) release(prev Client) {
	if prev == nil {
		return
	}
	if err := prev.Close(); err != nil {
		c.logger.Warn().Err(err).Str("client_id", prev.ID()).Msg("failed to close previous client")
	}
}

func (c *Controller) connectToRoom(seq uint64, roomID, authToken string) {
	defer c.wg.Done()

	ctx, span := c.tracer.Start(c.ctx, "session.connect", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.Int64("session.attempt", int64(seq)),
	))
	defer span.End()

	logger := c.logger.With().Str("room", roomID).Uint64("attempt", seq).Logger()

	info, err := c.resolver.Lookup(ctx, roomID, authToken)
	if err != nil {
		logger.Error().Err(err).Str("stage", "resolve").Msg("room lookup failed")
		span.AddEvent("resolver.error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "room lookup failed")
		c.settle(seq, StatusError, err)
		return
	}
	if !info.Found() {
		logger.Info().Msg("room not found")
		span.SetAttributes(attribute.String("session.outcome", "not_found"))
		c.settle(seq, StatusNotFound, nil)
		return
	}

	cl, err := c.connector.Connect(ctx, info.Host, info.Token)
	if err != nil {
		logger.Error().Err(err).Str("stage", "connect").Msg("session connect failed")
		span.AddEvent("connect.error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "session connect failed")
		c.settle(seq, StatusError, err)
		return
	}

	adopted := c.adopt(seq, cl)
	c.wg.Add(1)
	go c.watch(cl)

	if !adopted {
		logger.Debug().Str("client_id", cl.ID()).Msg("discarding client from superseded attempt")
		span.SetAttributes(attribute.String("session.outcome", "superseded"))
		if err := cl.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close superseded client")
		}
		return
	}

	span.SetAttributes(attribute.String("session.outcome", "connected"))
	logger.Info().Str("client_id", cl.ID()).Msg("Connected")
}

// settle applies the outcome of attempt seq unless it has been superseded.
func (c *Controller) settle(seq uint64, status Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || seq != c.attempt {
		c.logger.Debug().Uint64("attempt", seq).Stringer("status", status).Msg("ignoring result of superseded attempt")
		return
	}
	c.setStatusLocked(status, err)
}

func (c *Controller) adopt(seq uint64, cl Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || seq != c.attempt {
		return false
	}
	c.current = cl
	c.setStatusLocked(StatusConnected, nil)
	return true
}

// watch drains one client's events. Events from a client that is no longer
// current are dropped.
func (c *Controller) watch(cl Client) {
	defer c.wg.Done()

	for ev := range cl.Events() {
		switch ev := ev.(type) {
		case client.MessageEvent:
			c.mu.Lock()
			if c.current == cl {
				c.snapshot = ev.Snapshot
				c.hasSnapshot = true
				c.publishLocked(nil)
			}
			c.mu.Unlock()

		case client.DecodeErrorEvent:
			c.mu.Lock()
			if c.current == cl {
				c.logger.Warn().Err(ev.Err).Str("client_id", cl.ID()).Msg("keeping previous snapshot after undecodable frame")
				c.publishLocked(ev.Err)
			}
			c.mu.Unlock()

		case client.ClosedEvent:
			c.mu.Lock()
			if c.current == cl && c.status == StatusConnected {
				c.logger.Info().Err(ev.Err).Bool("local", ev.Local).Str("room", c.roomID).Str("client_id", cl.ID()).Msg("Disconnected")
				c.setStatusLocked(StatusDisconnected, nil)
			}
			c.mu.Unlock()
		}
	}
}

func (c *Controller) setStatusLocked(status Status, err error) {
	c.status = status
	c.publishLocked(err)
}

func (c *Controller) publishLocked(err error) {
	u := c.updateLocked(err)
	for sub := range c.subs {
		sub.push(u)
	}
}

func (c *Controller) updateLocked(err error) Update {
	return Update{
		Status:      c.status,
		Snapshot:    c.snapshot,
		HasSnapshot: c.hasSnapshot,
		Err:         err,
		Attempt:     c.attempt,
	}
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Snapshot returns a copy of the latest snapshot received on the current
// connection, and false when none has arrived yet.
func (c *Controller) Snapshot() (protocol.RoomSessionData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasSnapshot {
		return protocol.RoomSessionData{}, false
	}
	return c.snapshot.Clone(), true
}

// RoomID returns the room of the current attempt.
func (c *Controller) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Send sends a chat message through the current client.
func (c *Controller) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	cl, status := c.current, c.status
	c.mu.Unlock()

	if status != StatusConnected || cl == nil {
		return ErrNotConnected
	}
	if err := cl.Send(ctx, text); err != nil {
		if errors.Is(err, client.ErrNotConnected) {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		return err
	}
	return nil
}

// Subscribe returns a channel of updates and a function that cancels the
// subscription. If an attempt has already started, the current state is
// delivered first. The channel is closed on cancel or when the controller
// closes.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	sub := newSubscriber()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.finish()
		return sub.out, func() {}
	}
	if c.joined {
		sub.push(c.updateLocked(nil))
	}
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	return sub.out, func() {
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
		sub.stop()
	}
}

// Close tears the controller down: it fences in-flight attempts, closes the
// held client and waits for background work. Pending updates are still
// delivered before subscriber channels close.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.attempt++
	prev := c.current
	c.current = nil
	c.mu.Unlock()

	c.cancel()

	var err error
	if prev != nil {
		err = prev.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[*subscriber]struct{})
	c.mu.Unlock()
	for sub := range subs {
		sub.finish()
	}
	return err
}
