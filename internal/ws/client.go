package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
)

const egressBuffer = 256

// ConnInfo carries per-connection identity captured at handshake time.
type ConnInfo struct {
	ConnID      string
	UserID      int64
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Client wraps one websocket connection. All writes go through the egress
// channel and a single writer goroutine, which preserves publish order.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64
	info   ConnInfo

	egress    chan models.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection for the given user.
func NewClient(hub *Hub, conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: info.UserID,
		info:   info,
		egress: make(chan models.Event, egressBuffer),
		done:   make(chan struct{}),
	}
}

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() int64 { return c.userID }

// Info returns the handshake metadata.
func (c *Client) Info() ConnInfo { return c.info }

// TryEnqueue offers an event to the egress queue without blocking.
func (c *Client) TryEnqueue(ev models.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.egress <- ev:
		return true
	default:
		return false
	}
}

// Close tears the connection down once; safe from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// WritePump drains the egress queue onto the socket. It exits when the
// connection closes; a write error drops the connection.
func (c *Client) WritePump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.egress:
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Printf("websocket write error: %v", err)
				return
			}
			c.hub.confirmWrite(c, ev)
		}
	}
}
