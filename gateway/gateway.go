// Package gateway exposes bus state to UI consumers over WebSocket. Clients
// subscribe to bus paths with small JSON control frames and receive a state
// frame for every publish at a subscribed path. Slow or chatty clients are
// rate limited per connection rather than allowed to stall the bus.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/dzearing/ai-experiments-sub014/bus"
	"github.com/dzearing/ai-experiments-sub014/errors"
	"github.com/dzearing/ai-experiments-sub014/metric"
	"github.com/dzearing/ai-experiments-sub014/value"
)

const (
	writeTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
	pongTimeout   = 60 * time.Second
	sendQueueSize = 64
)

// Request is a control frame from a client.
type Request struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Path   []string `json:"path"`
}

// Frame is a state update pushed to a client.
type Frame struct {
	Path  []string    `json:"path"`
	Value value.Value `json:"value"`
}

// Config configures the gateway server.
type Config struct {
	Addr      string
	Bus       *bus.Bus
	Logger    *slog.Logger
	Metrics   *metric.Metrics
	RateLimit rate.Limit // frames per second per client; 0 = no limit
	RateBurst int
	// StopTimeout bounds the graceful shutdown when Start's context is
	// cancelled. Zero means 5 seconds.
	StopTimeout time.Duration
}

// Server fans bus publishes out to WebSocket clients.
type Server struct {
	addr        string
	bus         *bus.Bus
	logger      *slog.Logger
	metrics     *metric.Metrics
	rateLimit   rate.Limit
	rateBurst   int
	stopTimeout time.Duration
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	server  *http.Server
}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu     sync.Mutex
	subs   map[string]func() // path key -> bus disposer
	closed bool
}

// NewServer creates a gateway server bound to a bus.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Bus == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "NewServer", "bus required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 16
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	return &Server{
		addr:        addr,
		bus:         cfg.Bus,
		logger:      logger,
		metrics:     cfg.Metrics,
		rateLimit:   cfg.RateLimit,
		rateBurst:   burst,
		stopTimeout: stopTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[string]*client),
	}, nil
}

// Handler returns the HTTP handler that upgrades connections. Exposed so
// the gateway can be mounted on an existing mux in tests or embeddings.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// Start serves the gateway until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.Handler())

	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running"),
			"Server", "Start", "duplicate start check")
	}
	s.server = &http.Server{Addr: s.addr, Handler: mux}
	srv := s.server
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Stop(s.stopTimeout)
	}()

	s.logger.Info("gateway listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start", "serve on "+s.addr)
	}
	return nil
}

// Stop shuts the server down, closing all client connections.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.removeClient(c)
	}

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown HTTP server")
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		subs: make(map[string]func()),
	}
	if s.rateLimit > 0 {
		c.limiter = rate.NewLimiter(s.rateLimit, s.rateBurst)
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.GatewayClients.Inc()
	}
	s.logger.Debug("client connected", "client", c.id, "remote", r.RemoteAddr)

	go s.writeLoop(c)
	go s.readLoop(c)
}

// readLoop processes control frames until the connection drops.
func (s *Server) readLoop(c *client) {
	defer s.removeClient(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Warn("bad control frame", "client", c.id, "error", err)
			continue
		}
		if err := s.handleRequest(c, req); err != nil {
			s.logger.Warn("control frame rejected", "client", c.id, "action", req.Action, "error", err)
		}
	}
}

func (s *Server) handleRequest(c *client, req Request) error {
	path := value.Path(req.Path)
	key := path.String()

	switch req.Action {
	case "subscribe":
		c.mu.Lock()
		_, exists := c.subs[key]
		c.mu.Unlock()
		if exists {
			return nil
		}
		disposer, err := s.bus.Subscribe(path, func(v value.Value) {
			s.push(c, Frame{Path: path, Value: v})
		})
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.subs[key] = disposer
		c.mu.Unlock()
		return nil

	case "unsubscribe":
		c.mu.Lock()
		disposer, exists := c.subs[key]
		delete(c.subs, key)
		c.mu.Unlock()
		if exists {
			disposer()
		}
		return nil

	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown action %q", req.Action),
			"Server", "handleRequest", "action dispatch")
	}
}

// push enqueues a frame for a client, dropping it when the client is rate
// limited or its queue is full. Dropping is safe: the next frame carries
// the full current value, not an increment.
func (s *Server) push(c *client, frame Frame) {
	if c.limiter != nil && !c.limiter.Allow() {
		s.dropFrame(c)
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("frame marshal failed", "client", c.id, "error", err)
		return
	}
	// A subscription callback can still be in flight while the client is
	// being torn down; the closed flag keeps us off the closed channel.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		s.dropFrame(c)
	}
}

func (s *Server) dropFrame(c *client) {
	if s.metrics != nil {
		s.metrics.GatewayFramesDropped.Inc()
	}
	s.logger.Debug("frame dropped", "client", c.id)
}

// writeLoop serializes all writes for one connection.
func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			if s.metrics != nil {
				s.metrics.GatewayFramesSent.Inc()
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient tears down a client's bus subscriptions and connection.
// Idempotent: only the call that finds the client registered does the work.
func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, registered := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()
	if !registered {
		return
	}

	c.mu.Lock()
	disposers := make([]func(), 0, len(c.subs))
	for _, d := range c.subs {
		disposers = append(disposers, d)
	}
	c.subs = make(map[string]func())
	c.closed = true
	c.mu.Unlock()

	for _, d := range disposers {
		d()
	}
	close(c.send)
	_ = c.conn.Close()

	if s.metrics != nil {
		s.metrics.GatewayClients.Dec()
	}
	s.logger.Debug("client disconnected", "client", c.id)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
