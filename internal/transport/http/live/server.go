// Package live serves the live call websocket: microphone samples and
// control messages in, transcript, reply and audio events out.
package live

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xiaot623/salescall/internal/audio"
	"github.com/xiaot623/salescall/internal/call"
	"github.com/xiaot623/salescall/internal/config"
	"github.com/xiaot623/salescall/internal/domain"
	"github.com/xiaot623/salescall/internal/hub"
	"github.com/xiaot623/salescall/internal/service"
)

const maxMessageSize = 1 << 20

// Server handles live call websocket connections.
type Server struct {
	cfg      *config.Config
	service  *service.Service
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a live call server.
func NewServer(cfg *config.Config, svc *service.Service, h *hub.Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	live := *cfg
	if live.WSPingInterval <= 0 {
		live.WSPingInterval = 30 * time.Second
	}
	if live.WSReadTimeout <= 0 {
		live.WSReadTimeout = 60 * time.Second
	}
	if live.WSFrameRate <= 0 {
		live.WSFrameRate = 50
	}
	return &Server{
		cfg:     &live,
		service: svc,
		hub:     h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With(zap.String("component", "live")),
	}
}

// RegisterRoutes registers the websocket route.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/voice-agent/live", s.HandleWebSocket)
}

// HandleWebSocket upgrades the request and attaches a live call to the
// session named by the sessionId query parameter. mode=text skips the
// microphone; speak=false skips synthesized replies.
func (s *Server) HandleWebSocket(c echo.Context) error {
	sessionID := c.QueryParam("sessionId")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "Missing session ID"})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	ws.SetReadLimit(maxMessageSize)

	conn := s.hub.NewConnection(ws, sessionID)
	s.hub.Register(conn)
	go s.writePump(conn)

	opts := service.LiveOptions{
		Sink:  conn,
		Speak: c.QueryParam("speak") != "false",
		Voice: c.QueryParam("voice"),
	}
	var device *audio.PushDevice
	if c.QueryParam("mode") != domain.ModeText {
		device = audio.NewPushDevice(64)
		opts.Device = device
	}

	lc, err := s.service.StartLiveCall(sessionID, opts)
	if err != nil {
		code := "start_failed"
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			code = "session_not_found"
		case errors.Is(err, domain.ErrLiveCallActive):
			code = "live_call_active"
		}
		_ = conn.SendJSON(domain.LiveMessage{Type: domain.LiveTypeError, Ts: time.Now().UnixMilli(), Code: code, Message: err.Error()})
		s.hub.Unregister(conn)
		return nil
	}

	go s.readPump(conn, lc, device)
	return nil
}

// readPump feeds client frames into the call until the socket closes.
func (s *Server) readPump(conn *hub.Connection, lc *call.Call, device *audio.PushDevice) {
	defer func() {
		if device != nil {
			_ = device.Close()
		}
		s.service.FinishLiveCall(conn.SessionID)
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
		return nil
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.WSFrameRate), s.cfg.WSFrameRate)
	for {
		mt, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", zap.String("session_id", conn.SessionID), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))

		if !limiter.Allow() {
			s.logger.Debug("inbound frame rate exceeded, dropping", zap.String("session_id", conn.SessionID))
			continue
		}
		if err := s.service.TouchSession(conn.SessionID); err != nil {
			// Ended over HTTP or evicted.
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			if device == nil {
				continue
			}
			if !device.Push(audio.DecodeFloat32LE(data)) {
				s.logger.Debug("capture buffer full, dropping samples", zap.String("session_id", conn.SessionID))
			}
		case websocket.TextMessage:
			if done := s.handleMessage(conn, lc, data); done {
				return
			}
		}
	}
}

// handleMessage applies one control message and reports whether the
// client asked to hang up.
func (s *Server) handleMessage(conn *hub.Connection, lc *call.Call, data []byte) bool {
	var msg domain.LiveMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "invalid_message", "invalid JSON message")
		return false
	}

	switch msg.Type {
	case domain.LiveTypeText:
		lc.SubmitText(msg.Text)
	case domain.LiveTypeEndTurn:
		lc.EndTurn()
	case domain.LiveTypeVolume:
		lc.SetVolume(msg.Volume)
	case domain.LiveTypeEnd:
		return true
	default:
		s.sendError(conn, "invalid_message", "unknown message type: "+msg.Type)
	}
	return false
}

// writePump drains the connection's queue onto the socket and keeps it
// alive with pings.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			mt := websocket.TextMessage
			if msg.Binary {
				mt = websocket.BinaryMessage
			}
			if err := conn.WriteMessage(mt, msg.Data); err != nil {
				s.logger.Warn("websocket write failed", zap.String("session_id", conn.SessionID), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendError(conn *hub.Connection, code, message string) {
	_ = conn.SendJSON(domain.LiveMessage{
		Type:      domain.LiveTypeError,
		Ts:        time.Now().UnixMilli(),
		SessionID: conn.SessionID,
		Code:      code,
		Message:   message,
	})
}
