package hub

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"nostr_magiclink/internal/event"
)

const sendBuffer = 256

type Client struct {
	ctx       context.Context
	conn      *websocket.Conn
	hub       *Hub
	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	subsMu sync.Mutex
	subs   map[string][]event.Filter
}

func NewClient(ctx context.Context, conn *websocket.Conn, h *Hub) *Client {
	return &Client{
		ctx:    ctx,
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		subs:   make(map[string][]event.Filter),
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil {
			c.hub.log.Debug("failed to close websocket connection", "error", err)
		}
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			// Shutdown and ordinary hangups are not worth an error line.
			if c.ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket error", "error", err)
			}
			return
		}
		c.handle(message)
	}
}

func (c *Client) handle(message []byte) {
	frame, err := parseFrame(message)
	if err != nil {
		c.hub.log.Debug("invalid relay frame", "error", err)
		c.Send(noticeFrame("error: " + err.Error()))
		return
	}

	switch frame.Label {
	case LabelEvent:
		c.hub.Publish(c, frame.Event)
	case LabelReq:
		c.subsMu.Lock()
		c.subs[frame.SubscriptionID] = frame.Filters
		c.subsMu.Unlock()
		for _, ev := range c.hub.query(frame.Filters) {
			c.Send(eventFrame(frame.SubscriptionID, ev))
		}
		c.Send(eoseFrame(frame.SubscriptionID))
	case LabelClose:
		c.subsMu.Lock()
		delete(c.subs, frame.SubscriptionID)
		c.subsMu.Unlock()
	}
}

func (c *Client) matching(ev event.SignedEvent) []string {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	var ids []string
	for id, filters := range c.subs {
		if matchesAny(filters, ev) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Client) WritePump() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			c.hub.log.Debug("failed to close websocket connection", "error", err)
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
			return
		case <-c.closed:
			return
		case message := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		}
	}
}

// Send queues a frame. A client that cannot keep up is dropped.
func (c *Client) Send(msg []byte) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		c.Close()
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}
