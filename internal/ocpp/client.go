package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargepoint/internal/metrics"
	"chargepoint/internal/ocpp/protocol"
)

const defaultCallTimeout = 30 * time.Second

// Conn is one established transport session.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// FrameLogger persists raw frames for audit.
type FrameLogger interface {
	Save(ctx context.Context, direction, messageType string, frame []byte) error
}

// Responder answers inbound calls with a CALLRESULT or CALLERROR frame. *Router is the charge
// point responder.
type Responder interface {
	Route(ctx context.Context, msg *Message) ([]byte, error)
}

// ClientConfig tunes Client.
type ClientConfig struct {
	CallTimeout time.Duration
	FrameLog    FrameLogger
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Client is one side of an OCPP-J session. It sends calls, correlates their answers and hands
// inbound calls to the responder.
type Client struct {
	router      Responder
	correlator  *Correlator
	callTimeout time.Duration
	frames      FrameLogger
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu   sync.RWMutex
	conn Conn
}

// NewClient builds a client dispatching inbound calls to router.
func NewClient(router Responder, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{
		router:      router,
		correlator:  NewCorrelator(logger, cfg.Metrics),
		callTimeout: timeout,
		frames:      cfg.FrameLog,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// Connected reports whether a session is attached.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Pending returns the number of calls awaiting an answer.
func (c *Client) Pending() int {
	return c.correlator.Pending()
}

// Serve attaches conn and processes inbound frames until the connection fails or ctx ends.
// Calls still pending when Serve returns fail with ErrConnectionLost.
func (c *Client) Serve(ctx context.Context, conn Conn) error {
	c.attach(conn)
	defer c.detach(conn)

	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		c.handleFrame(ctx, conn, raw)
	}
}

func (c *Client) attach(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) detach(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	if n := c.correlator.FailAll(ErrConnectionLost); n > 0 {
		c.logger.Warn("failed pending calls on session loss", zap.Int("count", n))
	}
}

func (c *Client) current() Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) handleFrame(ctx context.Context, conn Conn, raw []byte) {
	msg, err := Parse(raw)
	if err != nil {
		c.logger.Warn("discarding malformed frame", zap.Error(err), zap.ByteString("frame", raw))
		return
	}

	switch msg.MessageType {
	case protocol.MessageTypeCall:
		c.logFrame(ctx, "incoming", string(msg.Action), raw)
		resp, err := c.router.Route(ctx, msg)
		if err != nil {
			c.logger.Error("encode ocpp response failed", zap.String("action", string(msg.Action)), zap.Error(err))
			return
		}
		if err := conn.Send(ctx, resp); err != nil {
			c.logger.Warn("send ocpp response failed", zap.String("action", string(msg.Action)), zap.Error(err))
			return
		}
		c.logFrame(ctx, "outgoing", string(msg.Action), resp)
	default:
		c.logFrame(ctx, "incoming", messageKind(msg.MessageType), raw)
		c.correlator.Resolve(msg)
	}
}

// Call sends action with payload and decodes the result into out (may be nil).
func (c *Client) Call(ctx context.Context, action protocol.Action, payload, out interface{}) error {
	return c.call(ctx, action, payload, out)
}

func (c *Client) call(ctx context.Context, action protocol.Action, payload, out interface{}) error {
	conn := c.current()
	if conn == nil {
		c.metrics.RecordCall(string(action), 0, "not_connected")
		return ErrNotConnected
	}

	req := c.correlator.register(action, c.callTimeout)
	frame, err := BuildCall(req.id, action, payload)
	if err != nil {
		c.correlator.cancel(req.id)
		return fmt.Errorf("ocpp: encode %s: %w", action, err)
	}

	if err := conn.Send(ctx, frame); err != nil {
		c.correlator.cancel(req.id)
		c.metrics.RecordCall(string(action), time.Since(req.sentAt), "send")
		return fmt.Errorf("ocpp: send %s: %w", action, err)
	}
	c.logFrame(ctx, "outgoing", string(action), frame)

	var res outcome
	select {
	case res = <-req.result:
	case <-ctx.Done():
		c.correlator.cancel(req.id)
		return ctx.Err()
	}

	took := time.Since(req.sentAt)
	if res.err != nil {
		c.metrics.RecordCall(string(action), took, failureReason(res.err))
		return res.err
	}
	c.metrics.RecordCall(string(action), took, "")

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.payload, out); err != nil {
		return fmt.Errorf("ocpp: decode %s response: %w", action, err)
	}
	return nil
}

func (c *Client) logFrame(ctx context.Context, direction, messageType string, frame []byte) {
	if c.frames == nil {
		return
	}
	if err := c.frames.Save(ctx, direction, messageType, frame); err != nil {
		c.logger.Debug("frame log write failed", zap.Error(err))
	}
}

func messageKind(t protocol.MessageType) string {
	switch t {
	case protocol.MessageTypeCallResult:
		return "CallResult"
	case protocol.MessageTypeCallError:
		return "CallError"
	default:
		return "Call"
	}
}

func failureReason(err error) string {
	var callErr *CallError
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	case errors.As(err, &callErr):
		return string(callErr.Code)
	default:
		return "error"
	}
}
