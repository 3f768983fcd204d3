package roomserver

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// handleRoomSocket upgrades GET /?token=... into a room membership.
func (s *Server) handleRoomSocket(c *gin.Context) {
	room, userID, ok := s.hub.redeem(c.Query("token"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.wg.Done()
		s.logger.Error().Err(err).Str("room", room.ID()).Msg("failed to upgrade connection")
		return
	}

	go s.serveMember(room, userID, conn)
}

// serveMember runs one room socket until either side closes it.
func (s *Server) serveMember(room *Room, userID string, conn *websocket.Conn) {
	defer s.wg.Done()

	logger := s.logger.With().Str("room", room.ID()).Str("user", userID).Str("remote", conn.RemoteAddr().String()).Logger()

	var closeOnce sync.Once
	kick := func(code int, reason string) {
		closeOnce.Do(func() {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			conn.Close()
		})
	}
	defer kick(websocket.CloseNormalClosure, "")

	stop := context.AfterFunc(s.ctx, func() {
		kick(websocket.CloseGoingAway, "server shutting down")
	})
	defer stop()

	m := &member{
		userID:   userID,
		outgoing: make(chan []byte, 32),
		kick: func() {
			kick(websocket.ClosePolicyViolation, "removed from room")
		},
	}

	// Start writer goroutine
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for data := range m.outgoing {
			if err := conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
				logger.Error().Err(err).Msg("failed to set write deadline")
				conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Warn().Err(err).Msg("failed to send snapshot")
				conn.Close()
				return
			}
		}
	}()

	room.Register(m)
	defer func() {
		room.Unregister(m)
		close(m.outgoing)
		<-writerDone
	}()

	conn.SetReadLimit(readLimit)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("room socket error")
			}
			return
		}

		if messageType != websocket.TextMessage {
			logger.Debug().Int("type", messageType).Msg("ignoring non-text frame")
			continue
		}
		text := string(data)
		if strings.TrimSpace(text) == "" {
			continue
		}
		room.Post(userID, text)
	}
}
