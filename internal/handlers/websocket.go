package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/webrtc-meet/internal/models"
	"github.com/mossy-p/webrtc-meet/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id   string
	conn *websocket.Conn
	send chan models.Frame
	done chan struct{}
	once sync.Once
	log  *slog.Logger
}

func newClient(conn *websocket.Conn) *Client {
	id := uuid.New().String()
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan models.Frame, sendBufferSize),
		done: make(chan struct{}),
		log:  slog.With("conn", id),
	}
}

// ID identifies the connection
func (c *Client) ID() string {
	return c.id
}

// Deliver queues a frame for the write pump. A client whose buffer is full
// is disconnected rather than silently losing frames.
func (c *Client) Deliver(frame models.Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("send buffer full, closing connection")
		c.close()
		return false
	}
}

// Evict sends a final error frame and closes the connection after it
func (c *Client) Evict(reason string) {
	c.log.Info("evicting connection", "reason", reason)
	c.Deliver(models.Error(reason))
	c.close()
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Signaling upgrades the request and relays frames for the new connection.
// When the route carries a room and the query a displayName, the connection
// joins that room straight away.
func Signaling(hub *relay.Hub, maxMessageBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("failed to upgrade connection", "error", err)
			return
		}

		client := newClient(conn)
		session := hub.Attach(client)
		ctx := context.WithoutCancel(c.Request.Context())

		client.log.Info("connection opened", "remote", c.ClientIP())

		if room, name := c.Param("roomId"), c.Query("displayName"); room != "" && name != "" {
			session.Process(ctx, models.Frame{Type: models.FrameTypeJoin, Room: room, User: name})
		}

		go client.writePump()
		go client.readPump(ctx, session, maxMessageBytes)
	}
}

func (c *Client) readPump(ctx context.Context, session *relay.Session, maxMessageBytes int64) {
	defer func() {
		session.Close(ctx)
		c.close()
		c.conn.Close()
		c.log.Info("connection closed")
	}()

	if maxMessageBytes > 0 {
		c.conn.SetReadLimit(maxMessageBytes)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("websocket error", "error", err)
			}
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		session.HandleMessage(ctx, message)
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
		case frame := <-c.send:
			data, err := json.Marshal(frame)
			if err != nil {
				c.log.Error("failed to marshal frame", "type", frame.Type, "error", err)
				continue
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("failed to write frame", "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.flush()
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, stopping at the first failure
func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
