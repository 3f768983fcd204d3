// Package roomserver is a small room backend for local runs and end-to-end
// tests. It serves the lobby lookup API and the room WebSocket endpoint on
// one listener and broadcasts a full snapshot to every member on each
// change.
package roomserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/omochice/roomchat/pkg/protocol"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWriteTimeout = 5 * time.Second
	shutdownTimeout     = 5 * time.Second
	readLimit           = 32768
)

type Options struct {
	// PublicHost is returned as the room host by the lookup API. When empty
	// the Host header of the lookup request is used.
	PublicHost string
	// Rooms are created up front with these identifiers.
	Rooms        []string
	WriteTimeout time.Duration
	Debug        bool
	Logger       zerolog.Logger
}

// Server serves the lobby API and room sockets.
type Server struct {
	opts     Options
	hub      *Hub
	logger   zerolog.Logger
	router   *gin.Engine
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	logger := opts.Logger.With().Str("module", "roomserver").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:   opts,
		hub:    NewHub(logger),
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, id := range opts.Rooms {
		s.hub.ensureRoom(id)
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *gin.Engine {
	if !s.opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))

	r.GET("/", s.handleRoomSocket)

	api := r.Group("/api")
	api.POST("/rooms", s.handleCreateRoom)
	api.GET("/rooms/:roomId", s.handleLookup)

	return r
}

// Hub returns the room registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler for both the API and room sockets.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until ctx is done, then closes every room
// socket and shuts the HTTP server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("room server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close disconnects every room socket and waits for their goroutines.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	room := s.hub.CreateRoom()
	s.logger.Info().Str("room", room.ID()).Msg("room created")
	c.JSON(http.StatusCreated, gin.H{"roomId": room.ID()})
}

func (s *Server) handleLookup(c *gin.Context) {
	userID, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	roomID := c.Param("roomId")
	token, ok := s.hub.IssueToken(roomID, userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	host := s.opts.PublicHost
	if host == "" {
		host = c.Request.Host
	}
	c.JSON(http.StatusOK, protocol.ConnectionInfo{Host: host, Token: token})
}

func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http_request")
	}
}
