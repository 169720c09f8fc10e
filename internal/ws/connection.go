// Package ws carries OCPP-J frames over gorilla websocket connections.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("ws: connection closed")

const (
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 1024 * 1024
)

// Options tunes the pumps of a Connection.
type Options struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = 2 * o.PingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type outbound struct {
	data   []byte
	result chan error
}

// Connection is one websocket session. Send and Receive may be called from different
// goroutines; the first read or write failure closes it.
type Connection struct {
	ws     *websocket.Conn
	opts   Options
	logger *zap.Logger

	send  chan outbound
	inbox chan []byte

	closeOnce sync.Once
	done      chan struct{}
	mu        sync.Mutex
	err       error
}

// NewConnection wraps ws and starts its read and write pumps.
func NewConnection(ws *websocket.Conn, opts Options) *Connection {
	opts = opts.withDefaults()
	c := &Connection{
		ws:     ws,
		opts:   opts,
		logger: opts.Logger,
		send:   make(chan outbound),
		inbox:  make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c
}

// Subprotocol is the negotiated websocket subprotocol.
func (c *Connection) Subprotocol() string { return c.ws.Subprotocol() }

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err is the reason the connection closed, if any.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send writes one text frame and waits for the write to finish.
func (c *Connection) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	msg := outbound{data: frame, result: make(chan error, 1)}
	select {
	case c.send <- msg:
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-msg.result:
		return err
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next text frame.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.done:
		// frames read before the close are still delivered
		select {
		case msg := <-c.inbox:
			return msg, nil
		default:
		}
		return nil, c.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends a close frame and tears the connection down.
func (c *Connection) Close() error {
	c.fail(nil)
	return nil
}

func (c *Connection) closedErr() error {
	if err := c.Err(); err != nil {
		return errors.Join(ErrClosed, err)
	}
	return ErrClosed
}

func (c *Connection) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)

		deadline := time.Now().Add(c.opts.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
		if err != nil {
			c.logger.Info("connection closed", zap.Error(err))
		}
	})
}

func (c *Connection) readPump() {
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		kind, message, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		if kind != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", zap.Int("type", kind))
			continue
		}
		select {
		case c.inbox <- message:
		case <-c.done:
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			select {
			case <-c.done:
				msg.result <- c.closedErr()
				return
			default:
			}
			err := c.write(websocket.TextMessage, msg.data)
			msg.result <- err
			if err != nil {
				c.fail(err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.ws.WriteMessage(messageType, data)
}
