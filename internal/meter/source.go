package meter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Source kinds.
const (
	KindSimulator = "simulator"
	KindLine      = "line"
	KindHLW8032   = "hlw8032"
	KindPZEM      = "pzem"
	KindMBus      = "mbus"
	KindMQTT      = "mqtt"
)

// Config selects and configures the meter source.
type Config struct {
	Kind     string        `yaml:"kind"`
	Interval time.Duration `yaml:"interval"`

	// simulator
	Voltage float64 `yaml:"voltage"`
	Current float64 `yaml:"current"`

	// line, pzem
	Serial SerialConfig `yaml:"serial"`
	// hlw8032: one port per connector
	Ports        map[int]SerialConfig `yaml:"ports"`
	Coefficients HLW8032Coefficients  `yaml:"coefficients"`
	// pzem slave ids or mbus primary addresses per connector
	Addresses map[int]uint8 `yaml:"addresses"`
	// mbus
	Device  string      `yaml:"device"`
	Records MBusRecords `yaml:"records"`
	// mqtt
	ListenAddress string `yaml:"listen_address"`
	Topic         string `yaml:"topic"`
}

// NewSource builds the configured source.
func NewSource(cfg Config, connectors int, logger *zap.Logger) (Source, error) {
	logger = orNop(logger).Named("meter")

	switch cfg.Kind {
	case "", KindSimulator:
		sim := NewSimulator(connectors)
		if cfg.Voltage > 0 {
			sim.Voltage = cfg.Voltage
		}
		if cfg.Current > 0 {
			sim.Current = cfg.Current
		}
		if cfg.Interval > 0 {
			sim.Interval = cfg.Interval
		}
		return sim, nil
	case KindLine:
		return &LineSource{Port: cfg.Serial, Logger: logger}, nil
	case KindHLW8032:
		if len(cfg.Ports) == 0 {
			return nil, fmt.Errorf("meter: hlw8032 needs a port per connector")
		}
		ids := make([]int, 0, len(cfg.Ports))
		for id := range cfg.Ports {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		sources := make(Multi, 0, len(ids))
		for _, id := range ids {
			sources = append(sources, &HLW8032Source{
				ConnectorID:  id,
				Port:         cfg.Ports[id],
				Coefficients: cfg.Coefficients,
				Logger:       logger,
			})
		}
		return sources, nil
	case KindPZEM:
		addrs := cfg.Addresses
		if len(addrs) == 0 {
			addrs = make(map[int]uint8, connectors)
			for id := 1; id <= connectors; id++ {
				addrs[id] = uint8(id)
			}
		}
		return &PZEMSource{Port: cfg.Serial, Addresses: addrs, Interval: cfg.Interval, Logger: logger}, nil
	case KindMBus:
		if len(cfg.Addresses) == 0 {
			return nil, fmt.Errorf("meter: mbus needs a primary address per connector")
		}
		return &MBusSource{Device: cfg.Device, Addresses: cfg.Addresses, Records: cfg.Records, Interval: cfg.Interval, Logger: logger}, nil
	case KindMQTT:
		return &MQTTSource{Address: cfg.ListenAddress, Topic: cfg.Topic, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("meter: unknown source kind %q", cfg.Kind)
	}
}

// Multi runs several sources at once. It returns when ctx is done or the first source fails.
type Multi []Source

func (m Multi) Run(ctx context.Context, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)
	for _, src := range m {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			if err := src.Run(ctx, sink); err != nil {
				once.Do(func() {
					first = err
					cancel()
				})
			}
		}(src)
	}
	wg.Wait()
	return first
}
