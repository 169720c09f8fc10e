package ocpp

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargepoint/internal/metrics"
	"chargepoint/internal/ocpp/protocol"
)

var (
	// ErrTimeout is returned when no response arrives within the call timeout.
	ErrTimeout = errors.New("ocpp: call timed out")
	// ErrConnectionLost fails calls still pending when the session goes away.
	ErrConnectionLost = errors.New("ocpp: connection lost")
	// ErrNotConnected is returned for calls made while no session is attached.
	ErrNotConnected = errors.New("ocpp: not connected")
)

var idGenerator = uuid.NewString

// CallError is a CALLERROR answer from the central system.
type CallError struct {
	Action      protocol.Action
	Code        protocol.ErrorCode
	Description string
	Details     json.RawMessage
}

func (e *CallError) Error() string {
	return fmt.Sprintf("ocpp: %s rejected with %s: %s", e.Action, e.Code, e.Description)
}

type outcome struct {
	payload json.RawMessage
	err     error
}

type pendingRequest struct {
	id     string
	action protocol.Action
	sentAt time.Time
	timer  *time.Timer
	result chan outcome
}

// Correlator matches responses to outstanding requests by unique id.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewCorrelator returns an empty correlator.
func NewCorrelator(logger *zap.Logger, m *metrics.Metrics) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		pending: make(map[string]*pendingRequest),
		logger:  logger,
		metrics: m,
	}
}

// register allocates a fresh id and arms the timeout.
func (c *Correlator) register(action protocol.Action, timeout time.Duration) *pendingRequest {
	req := &pendingRequest{
		id:     idGenerator(),
		action: action,
		sentAt: time.Now(),
		result: make(chan outcome, 1),
	}

	c.mu.Lock()
	req.timer = time.AfterFunc(timeout, func() {
		c.fail(req.id, ErrTimeout)
	})
	c.pending[req.id] = req
	count := len(c.pending)
	c.mu.Unlock()
	c.metrics.SetPendingCalls(count)

	return req
}

func (c *Correlator) take(id string) *pendingRequest {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	count := len(c.pending)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	c.metrics.SetPendingCalls(count)
	if req.timer != nil {
		req.timer.Stop()
	}
	return req
}

func (c *Correlator) fail(id string, err error) {
	if req := c.take(id); req != nil {
		req.result <- outcome{err: err}
	}
}

// cancel forgets a request without delivering anything.
func (c *Correlator) cancel(id string) {
	c.take(id)
}

// Resolve delivers a CALLRESULT or CALLERROR to its waiter. Unknown ids are logged and dropped.
func (c *Correlator) Resolve(msg *Message) bool {
	req := c.take(msg.UniqueID)
	if req == nil {
		c.logger.Warn("dropping response for unknown request",
			zap.String("unique_id", msg.UniqueID),
			zap.Int("message_type", int(msg.MessageType)),
		)
		return false
	}

	switch msg.MessageType {
	case protocol.MessageTypeCallResult:
		req.result <- outcome{payload: msg.Payload}
	case protocol.MessageTypeCallError:
		req.result <- outcome{err: &CallError{
			Action:      req.action,
			Code:        msg.ErrorCode,
			Description: msg.ErrorDescription,
			Details:     msg.ErrorDetails,
		}}
	default:
		req.result <- outcome{err: fmt.Errorf("%w: unexpected message type %d", ErrMalformedFrame, msg.MessageType)}
	}
	return true
}

// FailAll fails every outstanding request with err.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	reqs := make([]*pendingRequest, 0, len(c.pending))
	for id, req := range c.pending {
		reqs = append(reqs, req)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	c.metrics.SetPendingCalls(0)

	for _, req := range reqs {
		if req.timer != nil {
			req.timer.Stop()
		}
		req.result <- outcome{err: err}
	}
	return len(reqs)
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
