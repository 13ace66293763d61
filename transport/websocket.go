package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/taskkit/logging"
)

// WebSocketTransport implements Transport over one WebSocket connection.
type WebSocketTransport struct {
	conn   *websocket.Conn
	config WebSocketConfig

	recv   chan *InboundMessage
	send   chan *OutboundMessage
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// WebSocketConfig holds WebSocket transport configuration.
type WebSocketConfig struct {
	Config

	// WriteTimeout for write operations.
	WriteTimeout time.Duration

	// ReadTimeout for read operations (0 = no timeout). Pongs extend it.
	ReadTimeout time.Duration

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Config:       DefaultConfig(),
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// NewWebSocketTransport creates a transport from an upgraded connection.
func NewWebSocketTransport(conn *websocket.Conn, cfg WebSocketConfig) *WebSocketTransport {
	cfg.Config = cfg.Config.withDefaults()
	conn.SetReadLimit(int64(cfg.MaxMessageSize))
	if cfg.ReadTimeout > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		})
	}

	return &WebSocketTransport{
		conn:   conn,
		config: cfg,
		recv:   make(chan *InboundMessage, cfg.RecvBufferSize),
		send:   make(chan *OutboundMessage, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// NewWebSocketUpgrader creates an upgrader that accepts any origin.
// Callers serving browsers should set CheckOrigin.
func NewWebSocketUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// Recv returns the channel for incoming messages.
func (t *WebSocketTransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for delivery.
func (t *WebSocketTransport) Send(msg *OutboundMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	select {
	case t.send <- msg:
		return nil
	case <-t.done:
		return ErrClosed
	}
}

// Run starts the read and write loops, blocking until ctx is cancelled.
func (t *WebSocketTransport) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		t.readLoop(ctx)
	}()

	go func() {
		defer wg.Done()
		t.writeLoop(ctx)
	}()

	<-ctx.Done()

	t.Close()
	wg.Wait()

	return ctx.Err()
}

// Close sends a close frame and closes the connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	return t.conn.Close()
}

func (t *WebSocketTransport) readLoop(ctx context.Context) {
	defer close(t.recv)

	if t.config.ReadTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
	}

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, parseErr := ParseInbound(data)
		if parseErr != nil {
			t.sendParseError(parseErr)
			continue
		}

		select {
		case t.recv <- msg:
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

func (t *WebSocketTransport) writeLoop(ctx context.Context) {
	var tick <-chan time.Time
	if t.config.PingInterval > 0 {
		ticker := time.NewTicker(t.config.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			t.drainSendQueue()
			return
		case <-t.done:
			t.drainSendQueue()
			return
		case <-tick:
			t.writePing()
		case msg := <-t.send:
			t.writeMessage(msg)
		}
	}
}

func (t *WebSocketTransport) writePing() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	_ = t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
}

func (t *WebSocketTransport) drainSendQueue() {
	for {
		select {
		case msg := <-t.send:
			t.writeMessage(msg)
		default:
			return
		}
	}
}

func (t *WebSocketTransport) writeMessage(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	if t.config.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	}

	_ = t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocketTransport) sendParseError(parseErr error) {
	_ = t.Send(&OutboundMessage{
		Response: &Response{
			JSONRPC: "2.0",
			Error:   AsError(parseErr),
		},
	})
}

// SessionFunc runs alongside a connection until ctx is cancelled, for
// example to push events through t.
type SessionFunc func(ctx context.Context, t Transport)

// WebSocketServer is an http.Handler that upgrades each request and
// serves JSON-RPC over it.
type WebSocketServer struct {
	handler  Handler
	config   WebSocketConfig
	upgrader *websocket.Upgrader
	session  SessionFunc
	logger   *logging.Logger

	mu       sync.Mutex
	sessions map[*WebSocketTransport]context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

// ServerOption configures a WebSocketServer.
type ServerOption func(*WebSocketServer)

// WithSession runs fn for every accepted connection.
func WithSession(fn SessionFunc) ServerOption {
	return func(s *WebSocketServer) { s.session = fn }
}

// WithUpgrader replaces the default upgrader.
func WithUpgrader(u *websocket.Upgrader) ServerOption {
	return func(s *WebSocketServer) { s.upgrader = u }
}

// WithServerLogger sets the logger for connection events.
func WithServerLogger(l *logging.Logger) ServerOption {
	return func(s *WebSocketServer) { s.logger = l.WithComponent("websocket") }
}

// NewWebSocketServer creates a server dispatching to h.
func NewWebSocketServer(h Handler, cfg WebSocketConfig, opts ...ServerOption) *WebSocketServer {
	s := &WebSocketServer{
		handler:  h,
		config:   cfg,
		upgrader: NewWebSocketUpgrader(),
		logger:   logging.Nop(),
		sessions: make(map[*WebSocketTransport]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request and serves it until the peer leaves or
// the server shuts down.
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", map[string]any{"remote": r.RemoteAddr, "error": err.Error()})
		return
	}

	t := NewWebSocketTransport(conn, s.config)
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	s.mu.Lock()
	s.sessions[t] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, t)
		s.mu.Unlock()
	}()

	s.logger.Info("session opened", map[string]any{"remote": r.RemoteAddr})
	if s.session != nil {
		go s.session(ctx, t)
	}
	if err := Serve(ctx, t, s.handler); err != nil {
		s.logger.Warn("session ended with error", map[string]any{"remote": r.RemoteAddr, "error": err.Error()})
	}
	s.logger.Info("session closed", map[string]any{"remote": r.RemoteAddr})
}

// Sessions returns the number of open connections.
func (s *WebSocketServer) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown refuses new connections, closes open ones and waits for their
// handlers to return or ctx to end.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, cancel := range s.sessions {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
