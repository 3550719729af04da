package devserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"forumsync/internal/logging"
	"forumsync/internal/metrics"
	"forumsync/pkg/protocol"
)

const maxFrameSize = 64 * 1024

var upgrader = websocket.Upgrader{
	// the dev server is opened from arbitrary local origins
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// HandlerOptions configures heartbeats and per-connection limits.
type HandlerOptions struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	Connection   ConnectionOptions
	Metrics      *metrics.Server
}

// Handler upgrades /ws/<kind>/<id>/?token=... requests and pumps commands
// into the hub.
type Handler struct {
	hub    *Hub
	tokens *TokenValidator
	opts   HandlerOptions
	logger zerolog.Logger
}

// NewHandler creates a socket handler. PongTimeout is raised above PingInterval when needed.
func NewHandler(hub *Hub, tokens *TokenValidator, opts HandlerOptions) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= opts.PingInterval {
		opts.PongTimeout = 2 * opts.PingInterval
	}
	return &Handler{
		hub:    hub,
		tokens: tokens,
		opts:   opts,
		logger: logging.Component("ws"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind, resourceID, err := protocol.ParsePath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	identity, err := h.tokens.Validate(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxFrameSize)

	conn := NewConnection(ws, identity, NewRoomKey(kind, resourceID), h.opts.Connection)
	if err := h.hub.Join(conn); err != nil {
		_ = conn.CloseWith(websocket.CloseTryAgainLater, "server shutting down")
		return
	}

	h.readPump(conn)
}

func (h *Handler) readPump(conn *Connection) {
	defer func() {
		_ = h.hub.Leave(conn)
		_ = conn.Close()
	}()

	resetDeadline := func() error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	}
	if err := resetDeadline(); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error { return resetDeadline() })

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("read failed")
			}
			return
		}
		if err := resetDeadline(); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if !conn.Allow() {
			h.opts.Metrics.CommandRejected("rate_limited")
			h.reject(conn, ErrRateLimited.Error())
			continue
		}

		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			h.opts.Metrics.CommandRejected("malformed")
			if errors.Is(err, protocol.ErrUnknownCommand) {
				h.reject(conn, "Unknown command type")
			} else {
				h.reject(conn, "Invalid command")
			}
			continue
		}

		if err := h.hub.Submit(conn, cmd); err != nil {
			return
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) reject(conn *Connection, message string) {
	if err := conn.WriteFrame(protocol.ErrorFrame{Message: message}); err != nil {
		h.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("failed to send error frame")
	}
}
