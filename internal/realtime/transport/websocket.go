package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tablewire/tablewire/internal/config"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("transport closed")

// ErrDisconnected is returned by Emit while the channel is down.
var ErrDisconnected = errors.New("transport disconnected")

// WebSocket implements Transport over a gorilla/websocket connection carrying
// JSON frames. It owns reconnection: after the first successful Dial it keeps
// redialing with a fixed delay until the attempt cap is hit or Close is called.
type WebSocket struct {
	cfg    config.Realtime
	logger *zap.Logger

	frames chan Frame
	states chan bool

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	cancel    context.CancelFunc
}

// NewWebSocket builds an undialed websocket transport.
func NewWebSocket(cfg config.Realtime, logger *zap.Logger) *WebSocket {
	return &WebSocket{
		cfg:    cfg,
		logger: logger,
		frames: make(chan Frame, 256),
		states: make(chan bool, 8),
	}
}

// Dial connects and starts the read/reconnect loop. It returns once the first
// connection attempt resolves; later drops are handled internally.
func (w *WebSocket) Dial(ctx context.Context, token string) error {
	runCtx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		cancel()
		return ErrClosed
	}
	w.cancel = cancel
	w.mu.Unlock()

	conn, err := w.dialOnce(ctx, token)
	if err != nil {
		cancel()
		return err
	}
	w.setConn(conn)

	go w.run(runCtx, token)
	return nil
}

func (w *WebSocket) dialOnce(ctx context.Context, token string) (*websocket.Conn, error) {
	endpoint, err := url.Parse(w.cfg.URL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
		q := endpoint.Query()
		q.Set("token", token)
		endpoint.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: w.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (w *WebSocket) setConn(conn *websocket.Conn) {
	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	w.pushState(true)
}

func (w *WebSocket) dropConn() {
	w.mu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	wasConnected := w.connected
	w.connected = false
	w.mu.Unlock()
	if wasConnected {
		w.pushState(false)
	}
}

func (w *WebSocket) pushState(up bool) {
	select {
	case w.states <- up:
	default:
		w.logger.Warn("state channel full; dropping transition", zap.Bool("connected", up))
	}
}

// run owns the read pump and the reconnect loop.
func (w *WebSocket) run(ctx context.Context, token string) {
	for {
		w.readPump(ctx)
		w.dropConn()

		if ctx.Err() != nil {
			return
		}

		conn, ok := w.redial(ctx, token)
		if !ok {
			return
		}
		w.setConn(conn)
	}
}

func (w *WebSocket) readPump(ctx context.Context) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.cfg.PingInterval * 2))
	})
	_ = conn.SetReadDeadline(time.Now().Add(w.cfg.PingInterval * 2))

	pingDone := make(chan struct{})
	go w.pingLoop(ctx, conn, pingDone)
	defer close(pingDone)

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if frame.Event == "" {
			continue
		}
		select {
		case w.frames <- frame:
		default:
			w.logger.Warn("frame buffer full; dropping event", zap.String("event", frame.Event))
		}
	}
}

func (w *WebSocket) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(w.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *WebSocket) redial(ctx context.Context, token string) (*websocket.Conn, bool) {
	for attempt := 1; w.cfg.ReconnectAttempts <= 0 || attempt <= w.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(w.cfg.ReconnectDelay):
		}

		conn, err := w.dialOnce(ctx, token)
		if err == nil {
			w.logger.Info("websocket reconnected", zap.Int("attempt", attempt))
			return conn, true
		}
		w.logger.Warn("websocket reconnect failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	w.logger.Error("websocket reconnect attempts exhausted")
	return nil, false
}

// Emit writes a frame to the channel. Sends while disconnected fail fast.
func (w *WebSocket) Emit(frame Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.conn == nil || !w.connected {
		return ErrDisconnected
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	return w.conn.WriteJSON(frame)
}

// Frames yields inbound frames.
func (w *WebSocket) Frames() <-chan Frame { return w.frames }

// States yields connection transitions.
func (w *WebSocket) States() <-chan bool { return w.states }

// Connected reports the live channel state.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Close tears down the connection and stops reconnecting.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	cancel := w.cancel
	conn := w.conn
	w.conn = nil
	w.connected = false
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}
