package humy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeTimeout     = 10 * time.Second
	defaultReadLimit = 1 << 20

	closeNormal   = int(websocket.StatusNormalClosure)
	closeAbnormal = int(websocket.StatusAbnormalClosure)
)

// ============================================================================
// Socket abstraction
// ============================================================================

// Conn is one established full-duplex socket.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens sockets. A rejected handshake should be reported as a
// *CloseError with Code CloseUnauthorized.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials real WebSocket endpoints.
type WebSocketDialer struct {
	HTTPClient *http.Client
	Header     http.Header
	ReadLimit  int64
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &CloseError{Code: CloseUnauthorized, Reason: resp.Status}
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: int(ce.Code), Reason: ce.Reason}
		}
		return nil, err
	}
	return data, nil
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(code int, reason string) error {
	return w.c.Close(websocket.StatusCode(code), reason)
}

// closeCode extracts the close code carried by err, or 1006 when the socket
// went away without one.
func closeCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return closeAbnormal
}

// ============================================================================
// Connection
// ============================================================================

// ConnectionEvents are the callbacks of a Connection. OnClose fires at most
// once, and only for closes the owner did not request through Close.
type ConnectionEvents struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(code int, err error)
}

// Connection wraps one socket with open/message/close callbacks. It is used
// once: after it closes, a new Connection is needed.
type Connection struct {
	events ConnectionEvents
	log    zerolog.Logger

	mu       sync.Mutex
	conn     Conn
	open     bool
	closed   bool
	notified bool
	cancel   context.CancelFunc
}

// NewConnection creates an unopened connection.
func NewConnection(events ConnectionEvents, logger zerolog.Logger) *Connection {
	return &Connection{events: events, log: logger}
}

// Open dials url and starts the read loop. OnOpen runs before Open returns.
// Dial failures are returned and do not trigger OnClose.
func (c *Connection) Open(ctx context.Context, dialer Dialer, url string) error {
	c.mu.Lock()
	if c.conn != nil || c.closed {
		c.mu.Unlock()
		return errors.New("humy: connection already used")
	}
	c.mu.Unlock()

	conn, err := dialer.Dial(ctx, url)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close(closeNormal, "closed during dial")
		return ErrStopped
	}
	readCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.open = true
	c.cancel = cancel
	c.mu.Unlock()

	if c.events.OnOpen != nil {
		c.events.OnOpen()
	}
	go c.readLoop(readCtx, conn)
	return nil
}

// IsOpen reports whether Send would currently be attempted.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send writes one text frame. It returns ErrNotReady unless the socket is open.
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	conn, open := c.conn, c.open
	c.mu.Unlock()
	if !open || conn == nil {
		return ErrNotReady
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// SendJSON marshals v and sends it as one frame.
func (c *Connection) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.Send(data)
}

// Close shuts the socket down without firing OnClose.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.open = false
	conn, cancel := c.conn, c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(closeNormal, "client closed")
	}
}

func (c *Connection) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.finish(closeCode(err), err)
			return
		}
		if c.events.OnMessage != nil {
			c.events.OnMessage(data)
		}
	}
}

func (c *Connection) finish(code int, err error) {
	c.mu.Lock()
	c.open = false
	if c.closed || c.notified {
		c.mu.Unlock()
		return
	}
	c.notified = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.log.Debug().Int("code", code).Err(err).Msg("socket closed")
	if c.events.OnClose != nil {
		c.events.OnClose(code, err)
	}
}
