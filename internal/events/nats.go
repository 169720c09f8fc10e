// Package events forwards station events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"chargepoint/internal/station"
)

const defaultBuffer = 256

// Conn is the publishing side of a NATS connection.
type Conn interface {
	Publish(subject string, data []byte) error
}

type event struct {
	Kind      string      `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NATSPublisher publishes station events on chargepoint.<id>.<kind>. Publish never blocks;
// events that do not fit in the buffer are dropped.
type NATSPublisher struct {
	conn   Conn
	prefix string
	queue  chan event
	logger *zap.Logger
	now    func() time.Time
}

// Connect dials the NATS server at url and keeps reconnecting in the background.
func Connect(url, chargePointID string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("chargepoint-"+chargePointID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", url, err)
	}
	return conn, nil
}

func NewNATSPublisher(conn Conn, chargePointID string, buffer int, logger *zap.Logger) *NATSPublisher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: "chargepoint." + chargePointID + ".",
		queue:  make(chan event, buffer),
		logger: logger,
		now:    time.Now,
	}
}

var _ station.Events = (*NATSPublisher)(nil)

// Subject returns the subject events of kind are published on.
func (p *NATSPublisher) Subject(kind string) string { return p.prefix + kind }

func (p *NATSPublisher) Publish(kind string, payload interface{}) {
	select {
	case p.queue <- event{Kind: kind, Timestamp: p.now().UTC(), Payload: payload}:
	default:
		p.logger.Warn("event dropped", zap.String("kind", kind))
	}
}

// Run publishes queued events until ctx is done.
func (p *NATSPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.queue:
			data, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("encode event", zap.String("kind", ev.Kind), zap.Error(err))
				continue
			}
			if err := p.conn.Publish(p.Subject(ev.Kind), data); err != nil {
				p.logger.Warn("publish event", zap.String("kind", ev.Kind), zap.Error(err))
			}
		}
	}
}
