package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matterverse/matterverse-core/internal/auth"
	"github.com/matterverse/matterverse-core/internal/infrastructure/config"
	"github.com/matterverse/matterverse-core/internal/notify"
)

// WebSocket message types.
const (
	WSTypePing            = "ping"
	WSTypePong            = "pong"
	WSTypeCommand         = "command"
	WSTypeCommandResponse = "command_response"
	WSTypeError           = "error"

	// wsSendBufferSize is the per-session outbound message buffer size.
	wsSendBufferSize = 256
)

// Fallbacks for unset WebSocket config values.
const (
	defaultMaxMessageSize = 4096
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 60 * time.Second
)

// WSMessage is the envelope for session traffic in both directions.
// Registry events (status_report, register_report, delete_report) are
// sent in their own shape, not wrapped in this envelope.
type WSMessage struct {
	Type     string `json:"type"`
	Command  string `json:"command,omitempty"`
	Message  string `json:"message,omitempty"`
	Response any    `json:"response,omitempty"`
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// session is one live WebSocket connection. Each session owns a
// notifier subscription; events and command responses are funnelled
// through a single writer goroutine.
type session struct {
	server         *Server
	conn           *websocket.Conn
	sub            *notify.Subscription
	send           chan []byte
	role           auth.Role
	done           chan struct{}
	maxMessageSize int64
	pingInterval   time.Duration
	pongTimeout    time.Duration
}

// handleWebSocket upgrades the connection and runs the session pumps.
// Authentication has already happened in middleware; the token's role
// decides per-message whether commands are accepted.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		writeUnauthorized(w, "bearer token required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(s, conn, claims.Role, s.wsCfg)
	if s.notifier != nil {
		sess.sub = s.notifier.Subscribe()
	}

	s.logger.Debug("websocket session opened", "subject", claims.Subject, "role", claims.Role)

	go sess.writePump()
	go sess.readPump()
}

func newSession(s *Server, conn *websocket.Conn, role auth.Role, cfg config.WebSocketConfig) *session {
	sess := &session{
		server:         s,
		conn:           conn,
		send:           make(chan []byte, wsSendBufferSize),
		role:           role,
		done:           make(chan struct{}),
		maxMessageSize: int64(cfg.MaxMessageSize),
		pingInterval:   time.Duration(cfg.PingInterval) * time.Second,
		pongTimeout:    time.Duration(cfg.PongTimeout) * time.Second,
	}
	if sess.maxMessageSize <= 0 {
		sess.maxMessageSize = defaultMaxMessageSize
	}
	if sess.pingInterval <= 0 {
		sess.pingInterval = defaultPingInterval
	}
	if sess.pongTimeout <= 0 {
		sess.pongTimeout = defaultPongTimeout
	}
	return sess
}

// close tears the session down once, releasing the subscription so the
// notifier stops queueing for it.
func (c *session) close() {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	if c.sub != nil {
		c.server.notifier.Unsubscribe(c.sub.ID)
	}
	c.conn.Close()
}

// readPump reads messages from the WebSocket connection. Commands are
// dispatched inline, so one session's operations stay in order.
func (c *session) readPump() {
	defer c.close()

	c.conn.SetReadLimit(c.maxMessageSize)
	wait := c.pingInterval + c.pongTimeout
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read error", "error", err)
			} else {
				c.server.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))
		c.handleMessage(message)
	}
}

// writePump is the session's only writer. It interleaves queued
// responses, notifier events and protocol pings.
func (c *session) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	// A session without a notifier still needs a selectable events
	// channel; a nil channel blocks forever, which is exactly right.
	var events <-chan notify.Event
	if c.sub != nil {
		events = c.sub.C
	}

	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.server.logger.Error("marshalling session event failed", "error", err)
				continue
			}
			if !c.write(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *session) write(messageType int, data []byte) bool {
	//nolint:errcheck // Best-effort deadline; write error caught below
	c.conn.SetWriteDeadline(time.Now().Add(c.pongTimeout))
	return c.conn.WriteMessage(messageType, data) == nil
}

// handleMessage processes an incoming session message.
func (c *session) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendMessage(WSMessage{Type: WSTypeError, Message: "Invalid JSON format"})
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.sendMessage(WSMessage{Type: WSTypePong})
	case WSTypeCommand:
		c.runCommand(msg.Command)
	default:
		c.server.logger.Warn("unknown websocket message type", "type", msg.Type)
		c.sendMessage(WSMessage{Type: WSTypeError, Message: "unknown message type: " + msg.Type})
	}
}

// runCommand dispatches a textual command line on behalf of the session
// and reports the terminal result back.
func (c *session) runCommand(command string) {
	if command == "" {
		c.sendMessage(WSMessage{Type: WSTypeError, Message: "command is required"})
		return
	}
	if !c.role.CanMutate() {
		c.sendMessage(WSMessage{Type: WSTypeError, Message: "admin role required for commands"})
		return
	}

	result, err := c.server.dispatcher.DispatchText(context.Background(), command)
	if err != nil {
		c.sendMessage(WSMessage{Type: WSTypeError, Message: err.Error()})
		return
	}
	c.sendMessage(WSMessage{
		Type:     WSTypeCommandResponse,
		Command:  command,
		Response: result,
	})
}

// sendMessage queues an envelope message for the writer.
func (c *session) sendMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend queues data without ever blocking the reader; a full buffer
// drops the message.
func (c *session) trySend(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
	}
}
