package wire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dshills/luabus/internal/bus"
	"github.com/dshills/luabus/internal/logging"
)

// ErrClientClosed is returned for operations on a closed client.
var ErrClientClosed = errors.New("wire client closed")

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 45 * time.Second
)

// Runner serializes delivery onto the goroutine that owns the scripting
// runtime. The read loop decodes frames on its own goroutine and must
// not dispatch into the runtime directly.
type Runner interface {
	Submit(fn func()) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client's logger.
func WithLogger(log *logging.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithDialer overrides the websocket dialer, mainly for tests.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// Client connects a local bus connection to a remote daemon over a
// websocket. Every frame the daemon pushes is decoded and dispatched
// through the runner; outgoing messages are serialized by a write lock.
type Client struct {
	conn   *bus.Connection
	run    Runner
	log    *logging.Logger
	dialer *websocket.Dialer

	writeMu  sync.Mutex
	ws       *websocket.Conn
	closed   atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

// NewClient creates a client that dispatches inbound messages on conn.
func NewClient(conn *bus.Connection, run Runner, opts ...ClientOption) *Client {
	c := &Client{
		conn:   conn,
		run:    run,
		log:    logging.Null,
		dialer: websocket.DefaultDialer,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to the daemon at url and starts the read loop. The loop
// stops when the context is cancelled, the peer goes away, or Close is
// called.
func (c *Client) Dial(ctx context.Context, url string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	ws, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	c.writeMu.Lock()
	c.ws = ws
	c.writeMu.Unlock()

	go c.readLoop(ctx, ws)
	go c.pingLoop(ctx, ws)

	c.log.Info("connected to bus daemon at %s", url)
	return nil
}

// Send encodes msg and writes it to the daemon.
func (c *Client) Send(msg *bus.Message) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return ErrClientClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Done is closed when the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears the websocket down. Safe to call more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		c.doneOnce.Do(func() { close(c.done) })
		return nil
	}
	deadline := time.Now().Add(writeTimeout)
	c.ws.SetWriteDeadline(deadline)
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}

// readLoop decodes frames and hands them to the runner for dispatch.
// Frames that fail to decode are logged and skipped so one bad peer
// message cannot wedge the stream.
func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) {
	defer c.doneOnce.Do(func() { close(c.done) })

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() && ctx.Err() == nil {
				c.log.Warn("bus daemon read failed: %v", err)
			}
			return
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			c.log.Warn("dropping frame: %v", err)
			continue
		}

		if err := c.run.Submit(func() {
			c.conn.Dispatch(msg)
		}); err != nil {
			c.log.Warn("dropping message %s: %v", msg.Serial, err)
		}
	}
}

// pingLoop keeps the connection alive so the daemon's idle timeout does
// not reap quiet clients.
func (c *Client) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
