package connection

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a channel server's connection to the coordinator. Frames are
// delivered in arrival order; a full buffer stalls reading rather than
// dropping a reply the channel is waiting for.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn      *websocket.Conn
	connected atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	writeMu   sync.Mutex // WriteMessage only; control writes are concurrency-safe

	frames chan Frame
	errs   chan error
	done   chan struct{}
}

// NewClient creates an unconnected Client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "channel_client", "url", cfg.URL),
		frames: make(chan Frame, cfg.BufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Connect dials the coordinator. A Client connects at most once.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrAlreadyClosed
	}
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	c.extendDeadline()

	// Any control traffic proves the coordinator is alive.
	conn.SetPingHandler(func(data string) error {
		c.extendDeadline()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	c.connected.Store(true)
	go c.readLoop()
	go c.pingLoop()

	c.logger.Debug("connected to coordinator")
	return nil
}

func (c *Client) extendDeadline() {
	if c.cfg.PingTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PingTimeout))
	}
}

// Close sends a close frame and releases the connection. Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.connected.Store(false)
		close(c.done)
		if c.conn == nil {
			return
		}
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

// Send writes one binary frame.
func (c *Client) Send(frame []byte) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Frames returns inbound frames.
func (c *Client) Frames() <-chan Frame { return c.frames }

// Errors yields the error that ended the connection, at most once.
func (c *Client) Errors() <-chan error { return c.errs }

// Connected reports whether the connection is up.
func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) readLoop() {
	defer c.connected.Store(false)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.logger.Warn("coordinator silent, dropping connection", "timeout", c.cfg.PingTimeout)
				err = ErrStaleConnection
			}
			c.errs <- err
			return
		}
		c.extendDeadline()

		select {
		case c.frames <- Frame{Data: data, ReceivedAt: time.Now()}:
		case <-c.done:
			return
		}
	}
}

func (c *Client) pingLoop() {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = DefaultClientConfig().PingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed", "error", err)
			}
		}
	}
}
