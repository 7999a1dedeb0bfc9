package network

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrQueueFull  = errors.New("outbound queue full")
	ErrConnClosed = errors.New("connection closed")
)

type OverflowPolicy int

const (
	// OverflowDisconnect closes a connection whose queue is full.
	OverflowDisconnect OverflowPolicy = iota
	// OverflowDrop discards the message and keeps the connection.
	OverflowDrop
)

const maxRateLimitViolations = 5

// Handler receives connection events. OnMessage is called from the
// connection's own reader goroutine, one message at a time. Broadcasts skip a
// connection until the handler calls Activate on it. Messages are only rate
// limited when OnMessage calls Throttle.
type Handler interface {
	OnConnect(c *Conn)
	OnMessage(c *Conn, data []byte)
	OnDisconnect(c *Conn)
}

type Config struct {
	QueueSize      int
	OverflowPolicy OverflowPolicy
	WriteTimeout   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string

	RateLimitEnabled  bool
	MessagesPerSecond float64
	BurstSize         int
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
}

// Server upgrades HTTP requests to websockets and owns the set of open
// connections.
type Server struct {
	cfg      Config
	handler  Handler
	upgrader websocket.Upgrader
	conns    map[*Conn]struct{}
	closed   bool
	logger   *slog.Logger
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

func NewServer(cfg Config, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	s := &Server{
		cfg:     cfg,
		handler: handler,
		conns:   make(map[*Conn]struct{}),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	s.logger.Warn("rejected websocket origin", "origin", origin)
	return false
}

// ServeHTTP upgrades the request and runs the connection's read loop until it
// closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	c := newConn(s, ws)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	go c.writePump()

	s.logger.Debug("connection opened", "remote", c.RemoteAddr())
	s.handler.OnConnect(c)

	s.readLoop(c)

	c.Close()
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	s.handler.OnDisconnect(c)
	s.logger.Debug("connection closed", "remote", c.RemoteAddr(), "id", c.ID())
}

func (s *Server) readLoop(c *Conn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("read failed", "id", c.ID(), "error", err)
			}
			return
		}

		s.handler.OnMessage(c, data)

		if c.isClosed() {
			return
		}
	}
}

// Broadcast queues data on every open connection except the given one.
// Failures on one connection never stop delivery to the rest.
func (s *Server) Broadcast(data []byte, except *Conn) {
	s.mu.RLock()
	targets := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		if c != except && c.active.Load() {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(data); err != nil && !errors.Is(err, ErrConnClosed) {
			s.logger.Warn("failed to queue broadcast", "id", c.ID(), "error", err)
		}
	}
}

func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Close disconnects every client and waits for their handlers to finish.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
	}
	s.wg.Wait()
}
