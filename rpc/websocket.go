package rpc

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vinayprograms/taskbot/logging"
)

// WebSocketConfig holds WebSocket server configuration.
type WebSocketConfig struct {
	// SendBufferSize is the number of responses queued per connection.
	// Default: 100
	SendBufferSize int

	// WriteTimeout for write operations.
	WriteTimeout time.Duration

	// MaxMessageSize limits incoming message size.
	MaxMessageSize int64

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration

	// CheckOrigin overrides the upgrader's origin check. nil allows all
	// origins; the gateway is expected to sit on a private network.
	CheckOrigin func(r *http.Request) bool
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		SendBufferSize: 100,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1024 * 1024, // 1MB
		PingInterval:   30 * time.Second,
	}
}

// WebSocketServer accepts gateway connections and answers every request
// received on them.
type WebSocketServer struct {
	handler  Handler
	config   WebSocketConfig
	upgrader *websocket.Upgrader
	logger   *logging.Logger

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewWebSocketServer creates a server dispatching to handler.
func NewWebSocketServer(handler Handler, cfg WebSocketConfig, logger *logging.Logger) *WebSocketServer {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = DefaultWebSocketConfig().SendBufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultWebSocketConfig().MaxMessageSize
	}
	check := cfg.CheckOrigin
	if check == nil {
		check = func(r *http.Request) bool { return true }
	}
	if logger == nil {
		logger = logging.New()
	}
	return &WebSocketServer{
		handler: handler,
		config:  cfg,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     check,
		},
		logger: logger.WithComponent("rpc.ws"),
		conns:  make(map[*wsConn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it
// closes.
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := newWSConn(conn, s.config)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	logger := s.logger.WithTraceID(uuid.NewString())
	logger.Info("gateway connected", map[string]interface{}{"remote": r.RemoteAddr})

	c.serve(context.Background(), s.handler)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	logger.Info("gateway disconnected")
}

// Connections returns the number of open connections.
func (s *WebSocketServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close closes every connection and waits for in-flight requests.
func (s *WebSocketServer) Close() error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
	return nil
}

// wsConn is one gateway connection: a read loop that runs requests in
// order and a write loop that serializes responses and pings.
type wsConn struct {
	conn   *websocket.Conn
	config WebSocketConfig

	send   chan []byte
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func newWSConn(conn *websocket.Conn, cfg WebSocketConfig) *wsConn {
	conn.SetReadLimit(cfg.MaxMessageSize)
	return &wsConn{
		conn:   conn,
		config: cfg,
		send:   make(chan []byte, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) serve(ctx context.Context, h Handler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	c.readLoop(ctx, h)
	c.close()
	wg.Wait()
}

// readLoop handles requests until the peer goes away.
func (c *wsConn) readLoop(ctx context.Context, h Handler) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		out := ServeBytes(ctx, h, data)
		if out == nil {
			continue
		}
		select {
		case c.send <- out:
		case <-c.done:
			return
		}
	}
}

// writeLoop is the only writer of data frames. On shutdown it flushes
// queued responses, then says goodbye and closes the socket.
func (c *wsConn) writeLoop() {
	ticker := c.createPingTicker()
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.drainSendQueue()
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			c.conn.Close()
			return
		case <-ticker.C:
			c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
		case data := <-c.send:
			c.writeMessage(data)
		}
	}
}

// createPingTicker creates a ticker for keepalive pings.
func (c *wsConn) createPingTicker() *time.Ticker {
	if c.config.PingInterval > 0 {
		return time.NewTicker(c.config.PingInterval)
	}
	// Return a ticker that never fires
	ticker := time.NewTicker(time.Hour)
	ticker.Stop()
	return ticker
}

// drainSendQueue writes remaining responses before shutdown.
func (c *wsConn) drainSendQueue() {
	for {
		select {
		case data := <-c.send:
			c.writeMessage(data)
		default:
			return
		}
	}
}

func (c *wsConn) writeMessage(data []byte) {
	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	c.conn.WriteMessage(websocket.TextMessage, data)
}

// close stops the connection. The write loop finishes the teardown.
func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
