package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zlc_ai/messaging-bridge/internal/protocol"
)

// WebSocketConfig holds the WebSocket server configuration.
type WebSocketConfig struct {
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// MaxMessageSize bounds an inbound frame. Zero means no limit.
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// WebSocketServer accepts host connections, runs their command frames
// through a Handler and pushes every emitted event to every connection.
type WebSocketServer struct {
	cfg      WebSocketConfig
	handler  Handler
	logger   *zap.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	connMu  sync.RWMutex
	conns   map[*wsConn]struct{}
	stopped bool

	wg sync.WaitGroup
}

// wsConn is one host connection. Frames are written only by its writer
// goroutine, in the order they were queued.
type wsConn struct {
	id     string
	conn   *websocket.Conn
	out    *queue.Queue
	logger *zap.Logger
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(cfg WebSocketConfig, handler Handler, logger *zap.Logger) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketServer{
		cfg:     cfg,
		handler: handler,
		logger:  logger.Named("websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // hosts connect from embedded web views
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*wsConn]struct{}),
	}
}

// Start starts the WebSocket server. Connections are accepted through
// HTTPHandler.
func (ws *WebSocketServer) Start(ctx context.Context) error {
	ws.logger.Info("WebSocket server started")
	return nil
}

// Stop closes every connection and waits for their goroutines.
func (ws *WebSocketServer) Stop(ctx context.Context) error {
	ws.connMu.Lock()
	ws.stopped = true
	for c := range ws.conns {
		c.out.Dispose()
		c.conn.Close()
	}
	ws.connMu.Unlock()
	ws.cancel()

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		ws.logger.Info("WebSocket server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit queues event for every connected host.
func (ws *WebSocketServer) Emit(event *protocol.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		ws.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	ws.connMu.RLock()
	defer ws.connMu.RUnlock()
	for c := range ws.conns {
		c.send(data)
	}
}

// HTTPHandler returns an http.Handler for WebSocket upgrade.
func (ws *WebSocketServer) HTTPHandler() http.Handler {
	return http.HandlerFunc(ws.handleConnection)
}

// ConnectionCount returns the number of active connections.
func (ws *WebSocketServer) ConnectionCount() int {
	ws.connMu.RLock()
	defer ws.connMu.RUnlock()
	return len(ws.conns)
}

func (ws *WebSocketServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	if ws.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(ws.cfg.MaxMessageSize)
	}

	c := &wsConn{
		id:   uuid.New().String(),
		conn: conn,
		out:  queue.New(16),
	}
	c.logger = ws.logger.With(zap.String("conn", c.id))

	ws.connMu.Lock()
	if ws.stopped {
		ws.connMu.Unlock()
		conn.Close()
		return
	}
	ws.conns[c] = struct{}{}
	ws.wg.Add(2)
	ws.connMu.Unlock()

	c.logger.Info("WebSocket client connected", zap.String("remoteAddr", r.RemoteAddr))

	go ws.writeLoop(c)
	go ws.readLoop(c)
}

func (ws *WebSocketServer) readLoop(c *wsConn) {
	defer ws.wg.Done()
	defer func() {
		ws.connMu.Lock()
		delete(ws.conns, c)
		ws.connMu.Unlock()
		c.out.Dispose()
		c.conn.Close()
		c.logger.Info("WebSocket client disconnected")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		resp := handleFrame(ws.ctx, ws.handler, data)
		if resp.Error != nil && resp.Error.Code == protocol.ErrCodeProtocolError {
			c.logger.Warn("Rejected command frame", zap.String("error", resp.Error.Message))
		}
		out, err := json.Marshal(resp)
		if err != nil {
			c.logger.Error("Failed to marshal response", zap.Error(err))
			continue
		}
		c.send(out)
	}
}

func (ws *WebSocketServer) writeLoop(c *wsConn) {
	defer ws.wg.Done()

	for {
		items, err := c.out.Get(1)
		if err != nil {
			return
		}
		for _, item := range items {
			if ws.cfg.WriteTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(ws.cfg.WriteTimeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, item.([]byte)); err != nil {
				c.logger.Warn("Failed to send frame", zap.Error(err))
				c.conn.Close()
				return
			}
		}
	}
}

func (c *wsConn) send(data []byte) {
	if err := c.out.Put(data); err != nil {
		c.logger.Debug("Frame dropped, connection closing", zap.Error(err))
	}
}
