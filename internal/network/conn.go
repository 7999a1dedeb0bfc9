package network

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Conn is one websocket client. Only the writer goroutine writes data frames.
type Conn struct {
	server     *Server
	ws         *websocket.Conn
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	closed     atomic.Bool
	active     atomic.Bool
	limiter    *rate.Limiter
	violations int
	id         atomic.Value
}

func newConn(s *Server, ws *websocket.Conn) *Conn {
	c := &Conn{
		server: s,
		ws:     ws,
		send:   make(chan []byte, s.cfg.QueueSize),
		done:   make(chan struct{}),
	}
	if s.cfg.RateLimitEnabled {
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.BurstSize)
	}
	c.id.Store("")
	return c
}

// SetID binds the connection to a player id for logging.
func (c *Conn) SetID(id string) {
	c.id.Store(id)
}

// Activate makes the connection eligible for broadcasts.
func (c *Conn) Activate() {
	c.active.Store(true)
}

func (c *Conn) ID() string {
	return c.id.Load().(string)
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Throttle spends one token of the inbound rate limit and reports whether the
// message should be dropped. The handler decides which messages pay; the
// fifth refusal closes the connection. Call it only from OnMessage.
func (c *Conn) Throttle() bool {
	if c.limiter == nil || c.limiter.Allow() {
		return false
	}

	c.violations++
	c.server.logger.Warn("rate limit exceeded",
		"id", c.ID(),
		"violations", c.violations)

	if c.violations >= maxRateLimitViolations {
		c.server.logger.Warn("disconnecting client for excessive rate limit violations", "id", c.ID())
		c.CloseWithReason(websocket.ClosePolicyViolation, "rate limit exceeded")
	}
	return true
}

func (c *Conn) isClosed() bool {
	return c.closed.Load()
}

// Send queues data without blocking. A full queue either drops the message
// or closes the connection, depending on the overflow policy; both return
// ErrQueueFull.
func (c *Conn) Send(data []byte) error {
	if c.isClosed() {
		return ErrConnClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
	}

	if c.server.cfg.OverflowPolicy == OverflowDisconnect {
		c.server.logger.Warn("outbound queue full, disconnecting", "id", c.ID())
		c.CloseWithReason(websocket.CloseTryAgainLater, "outbound queue full")
	}
	return ErrQueueFull
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.ws.Close()
	})
}

// CloseWithReason sends a close frame before closing the socket.
func (c *Conn) CloseWithReason(code int, reason string) {
	if c.isClosed() {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(c.server.cfg.WriteTimeout)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.server.logger.Debug("failed to write close frame", "id", c.ID(), "error", err)
	}
	c.Close()
}

func (c *Conn) writePump() {
	defer c.Close()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.server.logger.Debug("write failed", "id", c.ID(), "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}
