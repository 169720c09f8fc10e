package meter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonaz/gombus"
	"go.uber.org/zap"
)

// MBusRecords are the data record indexes of a meter's long frame.
type MBusRecords struct {
	Energy  int `yaml:"energy"`
	Power   int `yaml:"power"`
	Voltage int `yaml:"voltage"`
	Current int `yaml:"current"`
}

// DefaultMBusRecords is the layout of a Garo GNM3D.
func DefaultMBusRecords() MBusRecords {
	return MBusRecords{Energy: 0, Power: 2, Voltage: 7, Current: 8}
}

// MBusSource polls wired M-Bus meters by primary address.
type MBusSource struct {
	Device    string
	Addresses map[int]uint8
	Records   MBusRecords
	Interval  time.Duration
	Logger    *zap.Logger

	mu   sync.Mutex
	conn gombus.Conn
}

func (s *MBusSource) dial() error {
	if s.conn != nil {
		return nil
	}
	device := s.Device
	if device == "" {
		device = "/dev/ttyAMA0"
	}
	c, err := gombus.DialSerial(device)
	if err != nil {
		return fmt.Errorf("mbus: dial %s: %w", device, err)
	}
	s.conn = c
	return nil
}

func (s *MBusSource) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Read requests one long frame from the meter wired to connectorID.
func (s *MBusSource) Read(connectorID int) (Reading, error) {
	addr, ok := s.Addresses[connectorID]
	if !ok {
		return Reading{}, fmt.Errorf("mbus: no meter for connector %d", connectorID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dial(); err != nil {
		return Reading{}, err
	}

	frame, err := s.request(addr)
	if err != nil {
		s.conn.Close()
		s.conn = nil
		return Reading{}, fmt.Errorf("mbus: read %d: %w", addr, err)
	}
	return s.toReading(connectorID, frame)
}

func (s *MBusSource) request(addr uint8) (*gombus.DecodedFrame, error) {
	if _, err := s.conn.Write(gombus.SndNKE(addr)); err != nil {
		return nil, err
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		return nil, err
	}
	if _, err := gombus.ReadSingleCharFrame(s.conn); err != nil {
		return nil, err
	}
	return gombus.ReadSingleFrame(s.conn, int(addr))
}

func (s *MBusSource) toReading(connectorID int, frame *gombus.DecodedFrame) (Reading, error) {
	rec := s.Records
	if rec == (MBusRecords{}) {
		rec = DefaultMBusRecords()
	}
	value := func(i int) (float64, error) {
		if i < 0 || i >= len(frame.DataRecords) {
			return 0, fmt.Errorf("mbus: frame has no record %d", i)
		}
		return frame.DataRecords[i].Value, nil
	}

	r := Reading{ConnectorID: connectorID, HasEnergy: true, At: time.Now()}
	var err error
	if r.EnergyWh, err = value(rec.Energy); err != nil {
		return Reading{}, err
	}
	if r.Power, err = value(rec.Power); err != nil {
		return Reading{}, err
	}
	if r.Voltage, err = value(rec.Voltage); err != nil {
		return Reading{}, err
	}
	if r.Current, err = value(rec.Current); err != nil {
		return Reading{}, err
	}
	return r, nil
}

func (s *MBusSource) Run(ctx context.Context, sink Sink) error {
	logger := orNop(s.Logger)
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	defer s.close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for id := range s.Addresses {
			r, err := s.Read(id)
			if err != nil {
				logger.Warn("mbus poll failed", zap.Int("connector_id", id), zap.Error(err))
				continue
			}
			sink.Publish(r)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
