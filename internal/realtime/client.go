package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/richjun-project/vibescan/internal/api/middleware"
	"github.com/richjun-project/vibescan/internal/scan"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS layer in front of the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client message types.
const (
	msgSubscribe   = "subscribe-scan"
	msgUnsubscribe = "unsubscribe-scan"
)

// ClientMessage is what browsers send over the socket.
type ClientMessage struct {
	Type       string `json:"type"`
	ScanID     string `json:"scan_id"`
	ShareToken string `json:"share_token,omitempty"`
}

// ack is the non-event server frame (subscription acks and errors).
type ack struct {
	Type   string `json:"type"`
	ScanID string `json:"scan_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Client is one websocket connection. A connection may watch any
// number of scans it is authorized for.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
}

// ServeWS upgrades the request and runs the connection's pumps. Works
// for both authenticated users (JWT middleware ran before this) and
// anonymous share-token viewers.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: middleware.GetUserID(r.Context()),
	}

	go client.writePump()
	go client.readPump()
}

// enqueue hands a frame to the writer without blocking the broadcast
// path. A consumer too slow to drain its buffer loses the connection
// and must re-sync via the query API.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("dropping slow websocket consumer")
		c.conn.Close()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendAck(ack{Type: "error", Error: "invalid message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg ClientMessage) {
	scanID, err := uuid.Parse(msg.ScanID)
	if err != nil {
		c.sendAck(ack{Type: "error", Error: "invalid scan id"})
		return
	}

	switch msg.Type {
	case msgSubscribe:
		ctx := context.Background()
		if err := c.hub.registry.AuthorizeSubscribe(ctx, scanID, c.userID, msg.ShareToken); err != nil {
			if errors.Is(err, scan.ErrScanNotFound) {
				c.sendAck(ack{Type: "error", ScanID: msg.ScanID, Error: "scan not found"})
			} else {
				c.sendAck(ack{Type: "error", ScanID: msg.ScanID, Error: "not authorized for this scan"})
			}
			return
		}

		c.hub.subscribe(c, scanID)
		c.sendAck(ack{Type: "subscribed", ScanID: msg.ScanID})

		// Snapshot so a late or reconnecting subscriber converges
		// without event replay.
		if state, err := c.hub.registry.CurrentState(ctx, scanID); err == nil {
			if data, err := json.Marshal(state); err == nil {
				c.enqueue(data)
			}
		}

	case msgUnsubscribe:
		c.hub.unsubscribe(c, scanID)
		c.sendAck(ack{Type: "unsubscribed", ScanID: msg.ScanID})

	default:
		c.sendAck(ack{Type: "error", Error: "unknown message type"})
	}
}

func (c *Client) sendAck(a ack) {
	if data, err := json.Marshal(a); err == nil {
		c.enqueue(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
