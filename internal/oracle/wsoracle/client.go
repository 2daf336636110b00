package wsoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pathpilot/internal/geom"
	"pathpilot/internal/oracle"
)

type ClientConfig struct {
	Logger *log.Logger
	Dialer *websocket.Dialer
	// Origin, when set, reports the agent position sent with every request
	// so that a server without its own world feed can plan from it.
	Origin func() (geom.Point, error)
}

type pendingRequest struct {
	onResult func([]geom.Waypoint)
	done     chan struct{}
}

// Client is an oracle.Oracle backed by a remote websocket oracle. Requests
// issued while disconnected are dropped without a callback; callers retry on
// their own schedule after reconnecting through Connect.
type Client struct {
	url    string
	logger *log.Logger
	dialer *websocket.Dialer
	origin func() (geom.Point, error)

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]*pendingRequest
	closed  bool

	ready atomic.Bool
	wg    sync.WaitGroup
}

var (
	_ oracle.Oracle    = (*Client)(nil)
	_ oracle.Connector = (*Client)(nil)
)

func NewClient(url string, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		url:     url,
		logger:  logger,
		dialer:  dialer,
		origin:  cfg.Origin,
		pending: make(map[string]*pendingRequest),
	}
}

// Connect dials the oracle, replacing any previous connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return oracle.ErrClosed
	}
	previous := c.conn
	c.conn = conn
	c.wg.Add(1)
	c.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	c.ready.Store(true)
	go c.readLoop(conn)
	return nil
}

// Ready reports whether a connection is established.
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// Ping sends a reachability probe. The pong is consumed by the read loop.
func (c *Client) Ping() error {
	return c.write(message{Type: TypePing})
}

// RequestPath implements oracle.Oracle.
func (c *Client) RequestPath(ctx context.Context, target geom.Point, onResult func([]geom.Waypoint)) {
	if !c.Ready() || ctx.Err() != nil {
		return
	}
	id := uuid.NewString()
	req := &pendingRequest{onResult: onResult, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending[id] = req
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		select {
		case <-req.done:
		case <-ctx.Done():
			if _, ok := c.take(id); ok {
				close(req.done)
				if err := c.write(message{Type: TypeCancel, ID: id}); err != nil {
					c.logger.Printf("[oracle] cancel %s failed: %v", id, err)
				}
			}
		}
	}()

	msg := message{Type: TypePath, ID: id, X: target.X, Y: target.Y}
	if origin, ok := oracle.OriginFrom(ctx); ok {
		msg.From = &pointFrame{X: origin.X, Y: origin.Y}
	} else if c.origin != nil {
		if origin, err := c.origin(); err == nil {
			msg.From = &pointFrame{X: origin.X, Y: origin.Y}
		}
	}
	if err := c.write(msg); err != nil {
		c.logger.Printf("[oracle] request %s failed: %v", id, err)
		if _, ok := c.take(id); ok {
			close(req.done)
		}
	}
}

// Close tears down the connection and waits for background goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.failPending()
	c.wg.Wait()
	return err
}

func (c *Client) write(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return oracle.ErrUnavailable
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) take(id string) (*pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return req, ok
}

// failPending abandons every outstanding request without invoking callbacks.
func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()
	for _, req := range pending {
		close(req.done)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
			}
			c.mu.Unlock()
			if current {
				c.ready.Store(false)
				c.failPending()
			}
			return
		}

		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Printf("[oracle] discarding malformed message: %v", err)
			continue
		}
		switch msg.Type {
		case TypeResult:
			req, ok := c.take(msg.ID)
			if !ok {
				continue
			}
			close(req.done)
			req.onResult(decodePath(msg.Path))
		case TypePong:
		default:
			c.logger.Printf("[oracle] unknown message type %q", msg.Type)
		}
	}
}
