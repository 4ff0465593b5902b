package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenTestRig/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message after connecting
	authWait = 10 * time.Second

	// Time allowed for a command to be executed
	commandWait = 5 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	logger     *zap.Logger
	remoteAddr string

	// owned by readPump once the pumps are running
	authenticated bool
	registered    bool
	identity      auth.Identity
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		if c.registered {
			c.hub.unregisterClient(c)
			c.conn.Close()
			return
		}
		// writePump flushes pending replies, then closes the connection
		close(c.send)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if c.authenticated {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	} else {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}
	c.conn.SetPongHandler(func(string) error {
		if c.authenticated {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr))
			}
			return
		}

		// First message MUST be authentication
		if !c.authenticated {
			if !c.authenticate(msg) {
				return
			}
			continue
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg ClientMessage) bool {
	if msg.Type != MessageTypeAuth {
		c.reply(NewMessage(MessageTypeAuthFailed, fields{"reason": "First message must be authentication"}))
		return false
	}
	if msg.Token == "" {
		c.reply(NewMessage(MessageTypeAuthFailed, fields{"reason": "Missing token in auth message"}))
		return false
	}

	identity, err := c.hub.authService.Authenticate(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr))
		c.reply(NewMessage(MessageTypeAuthFailed, fields{"reason": "Invalid or expired token"}))
		return false
	}

	c.authenticated = true
	c.identity = identity
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	c.reply(NewMessage(MessageTypeAuthSuccess, fields{
		"subject":     identity.Subject,
		"permissions": identity.Permissions,
	}))
	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr),
		zap.String("subject", identity.Subject))

	return c.join()
}

// join queues the current machine snapshot, then registers the client with
// the hub so that broadcasts follow the snapshot.
func (c *Client) join() bool {
	if provider := c.hub.machineStatusProvider; provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), commandWait)
		defer cancel()
		if status, err := provider.CurrentMachineStatus(ctx); err == nil {
			c.reply(NewMessage(MessageTypeMachineStatus, status))
		}
	}

	if !c.hub.registerClient(c) {
		return false
	}
	c.registered = true
	return true
}

func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeCommand:
		c.handleCommand(msg)
	default:
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.remoteAddr),
			zap.String("type", string(msg.Type)))
		c.reply(NewMessage(MessageTypeError, fields{"reason": "unsupported message type " + string(msg.Type)}))
	}
}

func (c *Client) handleCommand(msg ClientMessage) {
	result := CommandResultData{ID: msg.ID}
	defer func() { c.reply(NewMessage(MessageTypeCommandResult, result)) }()

	if msg.Command == nil {
		result.Error = "missing command"
		return
	}
	result.Action = string(msg.Command.Action)

	if !c.identity.Has(auth.PermOperator) {
		result.Error = "insufficient permissions"
		return
	}
	if c.hub.commandDispatcher == nil {
		result.Error = "commands are not accepted on this connection"
		return
	}

	cmd := *msg.Command
	if cmd.Requester == "" {
		cmd.Requester = c.identity.Subject
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandWait)
	defer cancel()

	rejection, err := c.hub.commandDispatcher.Dispatch(ctx, cmd)
	if err != nil {
		result.Error = err.Error()
		return
	}
	result.Rejection = rejection
	result.Accepted = rejection == ""
}

// reply queues msg for this client only.
func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	if !c.registered {
		select {
		case c.send <- data:
		default:
		}
		return
	}

	// the hub closes send under its lock
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		logger:     hub.logger,
		remoteAddr: conn.RemoteAddr().String(),
	}

	if !hub.authRequired() {
		client.authenticated = true
		client.identity = auth.Anonymous()
		if !client.join() {
			conn.Close()
			return
		}
	}

	go client.writePump()
	go client.readPump()
}

type fields = map[string]interface{}
