package websocket

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/auth"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// HMI clients are served from other origins (TUI, panel PCs)
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id          uuid.UUID
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	logger      *zap.Logger
	permissions []auth.Permission
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", c.id.String()))
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg ClientMessage) {
	c.logger.Debug("Received client message",
		zap.String("client_id", c.id.String()),
		zap.String("type", string(msg.Type)),
		zap.String("variable", msg.Variable))

	switch msg.Type {
	case MessageTypeWrite:
		c.handleWrite(msg)
	default:
		c.hub.send(c, NewErrorMessage("unknown message type "+string(msg.Type)))
	}
}

// handleWrite performs a display-driven write and answers the sender.
func (c *Client) handleWrite(msg ClientMessage) {
	result := WriteResultData{RequestID: msg.RequestID, Variable: msg.Variable}

	if !c.can(auth.PermTechnician) {
		result.Error = "insufficient permissions"
		c.hub.send(c, NewMessage(MessageTypeWriteResult, result))
		return
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(msg.Value))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		result.Error = "invalid value"
		c.hub.send(c, NewMessage(MessageTypeWriteResult, result))
		return
	}

	val, err := c.hub.source.Write(msg.Variable, raw)
	if err != nil {
		result.Error = err.Error()
	} else {
		result.OK = true
		result.Value = ads.Normalize(val)
	}
	c.hub.send(c, NewMessage(MessageTypeWriteResult, result))
}

func (c *Client) can(p auth.Permission) bool {
	for _, have := range c.permissions {
		if have == p {
			return true
		}
	}
	return false
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

// ServeWs upgrades the request and registers a client holding perms. The
// client first receives a snapshot of all variables.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, perms []auth.Permission) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		id:          uuid.New(),
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		logger:      hub.logger,
		permissions: perms,
	}

	if data, err := json.Marshal(NewMessage(MessageTypeSnapshot, hub.source.Snapshot())); err == nil {
		client.send <- data
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
