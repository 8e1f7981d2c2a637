package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = pingPeriod + 10*time.Second
	maxFrameBytes  = 64 << 10
	sendBufferSize = 128
)

var ErrConnectionClosed = errors.New("realtime: connection closed")

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel. Safe for concurrent Send and Close.
type Connection struct {
	ID     uuid.UUID
	UserID uuid.UUID

	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

func NewConnection(userID uuid.UUID, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:     uuid.New(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		close:  make(chan struct{}),
	}
}

// Start launches the write loop. Call it exactly once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload. A client too slow to drain its buffer is
// disconnected rather than allowed to grow it.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.close:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-c.close:
		return ErrConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("realtime: connection buffer exceeded")
	}
}

// SendWait enqueues payload, waiting for the writer to make room. Replies
// and history go through here; only live pushes use Send.
func (c *Connection) SendWait(ctx context.Context, payload []byte) error {
	select {
	case <-c.close:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-c.close:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- payload:
		return nil
	}
}

// Closed is closed once the connection is torn down.
func (c *Connection) Closed() <-chan struct{} { return c.close }

// Close terminates the connection and stops the write loop.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// ReadLoop reads text frames until the peer goes away, handing each to
// onFrame. onPong runs for every pong so callers can refresh liveness.
// The read deadline is pushed out on every pong; a peer that stops
// answering pings is dropped after pongWait.
func (c *Connection) ReadLoop(onFrame func([]byte), onPong func()) error {
	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		onFrame(data)
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseInternalServerErr, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
