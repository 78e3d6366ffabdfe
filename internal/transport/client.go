package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Delivery and close tuning.
const (
	sendBufferSize = 256
	writeTimeout   = 10 * time.Second
	pingEvery      = 54 * time.Second

	// closeGrace is how long a soft close waits for the peer to
	// acknowledge before the connection is hard-terminated.
	closeGrace = 5 * time.Second
)

// ErrSendBufferFull reports a dropped frame: a peer too slow to drain its
// queue loses frames rather than stalling the room.
var ErrSendBufferFull = errors.New("send buffer full, frame dropped")

// ErrConnectionClosed reports a send on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Client wraps one websocket connection with an outbound queue, a write
// pump and a token-bucket flood guard for inbound messages.
type Client struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string

	ctx    context.Context
	cancel context.CancelFunc

	sendCh chan []byte

	mu         sync.Mutex
	closed     bool
	softClosed bool

	limiter *rate.Limiter
}

// NewClient wraps an upgraded connection. remoteAddr is the derived source
// address (possibly overridden by the test cookie), not conn.RemoteAddr.
func NewClient(conn *websocket.Conn, remoteAddr string, cfg *RateLimitConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if cfg != nil && cfg.Enabled {
		limiter = rate.NewLimiter(cfg.MessagesPerSecond, cfg.Burst)
	}

	c := &Client{
		id:         uuid.New().String(),
		conn:       conn,
		remoteAddr: remoteAddr,
		ctx:        ctx,
		cancel:     cancel,
		sendCh:     make(chan []byte, sendBufferSize),
		limiter:    limiter,
	}
	go c.writePump()
	return c
}

// ID returns the unique identifier of this connection.
func (c *Client) ID() string {
	return c.id
}

// Addr returns the derived source address.
func (c *Client) Addr() string {
	return c.remoteAddr
}

// Context returns the connection's lifecycle context, cancelled on close.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Send queues a binary frame for delivery. It never blocks: a full queue
// drops the frame and reports ErrSendBufferFull.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.mu.Unlock()

	select {
	case c.sendCh <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SoftClose initiates a protocol-level close and arms a timer that hard
// terminates the connection if the peer has not acknowledged within
// closeGrace. Safe to call more than once.
func (c *Client) SoftClose() {
	c.mu.Lock()
	if c.closed || c.softClosed {
		c.mu.Unlock()
		return
	}
	c.softClosed = true
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	time.AfterFunc(closeGrace, c.Close)
}

// CloseWithCode sends a close frame with the given code and tears the
// connection down immediately.
func (c *Client) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	if !c.closed && !c.softClosed {
		c.softClosed = true
		msg := websocket.FormatCloseMessage(code, reason)
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.mu.Unlock()
	c.Close()
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close()
}

// IsAlive reports whether the connection is still open.
func (c *Client) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// checkRateLimit reports whether one more inbound message fits the flood
// guard. Always true when the guard is disabled.
func (c *Client) checkRateLimit() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// writePump moves frames from the send queue to the connection and keeps
// it alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
