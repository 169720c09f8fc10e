package meter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"
)

// DefaultMQTTTopic is the prefix meters publish under, followed by the connector id.
const DefaultMQTTTopic = "chargepoint/meter/"

type mqttPayload struct {
	Voltage  float64  `json:"voltage"`
	Current  float64  `json:"current"`
	Power    *float64 `json:"power"`
	EnergyWh *float64 `json:"energy_wh"`
}

// ParseMQTTReading decodes a message published on <prefix><connector>.
func ParseMQTTReading(prefix, topic string, payload []byte, at time.Time) (Reading, error) {
	if !strings.HasPrefix(topic, prefix) {
		return Reading{}, fmt.Errorf("mqtt: unexpected topic %q", topic)
	}
	id, err := strconv.Atoi(strings.TrimPrefix(topic, prefix))
	if err != nil || id <= 0 {
		return Reading{}, fmt.Errorf("mqtt: bad connector in topic %q", topic)
	}

	var p mqttPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Reading{}, fmt.Errorf("mqtt: decode %q: %w", topic, err)
	}
	r := Reading{ConnectorID: id, Voltage: p.Voltage, Current: p.Current, At: at}
	if p.Power != nil {
		r.Power = *p.Power
	} else {
		r.Power = p.Voltage * p.Current
	}
	if p.EnergyWh != nil {
		r.EnergyWh = *p.EnergyWh
		r.HasEnergy = true
	}
	return r, nil
}

// MQTTSource runs an embedded broker that external sensor boards publish their readings to.
type MQTTSource struct {
	// Address is the TCP listen address. Empty means the broker is only reachable in-process.
	Address string
	Topic   string
	Logger  *zap.Logger
}

func (s *MQTTSource) Run(ctx context.Context, sink Sink) error {
	logger := orNop(s.Logger)
	prefix := s.Topic
	if prefix == "" {
		prefix = DefaultMQTTTopic
	}

	server := mqtt.New(&mqtt.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return fmt.Errorf("mqtt: add auth hook: %w", err)
	}
	if s.Address != "" {
		tcp := listeners.NewTCP(listeners.Config{ID: "meters", Address: s.Address})
		if err := server.AddListener(tcp); err != nil {
			return fmt.Errorf("mqtt: listen %s: %w", s.Address, err)
		}
	}
	if err := server.Serve(); err != nil {
		return fmt.Errorf("mqtt: serve: %w", err)
	}
	defer server.Close()

	err := server.Subscribe(prefix+"+", 1, func(cl *mqtt.Client, sub packets.Subscription, pk packets.Packet) {
		r, err := ParseMQTTReading(prefix, pk.TopicName, pk.Payload, time.Now())
		if err != nil {
			logger.Warn("dropping meter message", zap.String("client", cl.ID), zap.Error(err))
			return
		}
		sink.Publish(r)
	})
	if err != nil {
		return fmt.Errorf("mqtt: subscribe: %w", err)
	}
	logger.Info("mqtt meter broker started", zap.String("address", s.Address), zap.String("topic", prefix+"+"))

	<-ctx.Done()
	return nil
}
