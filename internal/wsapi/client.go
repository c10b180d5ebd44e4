package wsapi

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jasonzhangf/finger/internal/eventbus"
	"github.com/jasonzhangf/finger/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBufSize    = 256
)

// inboundMessage is a client-to-server control frame: `{type, groups}`.
type inboundMessage struct {
	Type   string   `json:"type"`
	Groups []string `json:"groups"`
}

// outboundFrame is every message the server writes to the client, covering
// both control acks and forwarded events.
type outboundFrame struct {
	Type      string            `json:"type"`
	Group     eventbus.Group    `json:"group,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Payload   map[string]any    `json:"payload,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Client is a single subscribed WebSocket connection.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan outboundFrame

	mu     sync.RWMutex
	groups map[eventbus.Group]bool
	closed bool

	log *logger.Logger
}

// NewClient wraps conn for use with the hub.
func NewClient(conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	return &Client{
		conn:   conn,
		hub:    hub,
		send:   make(chan outboundFrame, sendBufSize),
		groups: make(map[eventbus.Group]bool),
		log:    log.WithFields(zap.String("component", "wsapi_client")),
	}
}

// deliver enqueues evt for this client if it is subscribed to evt's group.
func (c *Client) deliver(evt eventbus.Event) {
	c.mu.RLock()
	subscribed := c.groups[evt.Group]
	c.mu.RUnlock()
	if !subscribed {
		return
	}
	c.enqueue(outboundFrame{
		Type:      "event:" + evt.Type,
		Group:     evt.Group,
		SessionID: evt.SessionID,
		Payload:   evt.Payload,
		Timestamp: evt.TimestampISO,
	})
}

func (c *Client) enqueue(f outboundFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- f:
	default:
		c.log.Warn("client send buffer full, dropping frame")
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump reads control frames from the connection until it closes.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(outboundFrame{Type: "error", Error: "invalid message format"})
			continue
		}

		switch msg.Type {
		case "subscribe":
			c.addGroups(msg.Groups)
			c.enqueue(outboundFrame{Type: "subscribe_confirmed"})
		case "unsubscribe":
			c.removeGroups(msg.Groups)
			c.enqueue(outboundFrame{Type: "unsubscribe_confirmed"})
		default:
			c.enqueue(outboundFrame{Type: "error", Error: "unknown message type"})
		}
	}
}

func (c *Client) addGroups(groups []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range groups {
		c.groups[eventbus.Group(g)] = true
	}
}

func (c *Client) removeGroups(groups []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range groups {
		delete(c.groups, eventbus.Group(g))
	}
}

// WritePump writes queued frames to the connection until it closes.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.log.Debug("websocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
