package meter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"
)

const pzemRegisters = 10

// PZEMValues holds the measurement registers of a PZEM-004T v3.
type PZEMValues struct {
	Voltage     float64
	Current     float64
	Power       float64
	EnergyWh    float64
	Frequency   float64
	PowerFactor float64
}

// DecodePZEM decodes the input registers starting at address 0. 32-bit values are sent low word first.
func DecodePZEM(b []byte) (PZEMValues, error) {
	if len(b) < 2*9 {
		return PZEMValues{}, fmt.Errorf("pzem: short response of %d bytes", len(b))
	}
	reg := func(i int) uint32 { return uint32(binary.BigEndian.Uint16(b[2*i:])) }
	wide := func(i int) uint32 { return reg(i) | reg(i+1)<<16 }

	return PZEMValues{
		Voltage:     float64(reg(0)) / 10,
		Current:     float64(wide(1)) / 1000,
		Power:       float64(wide(3)) / 10,
		EnergyWh:    float64(wide(5)),
		Frequency:   float64(reg(7)) / 10,
		PowerFactor: float64(reg(8)) / 100,
	}, nil
}

// PZEMSource polls PZEM-004T modules sharing one RS485 bus. Addresses maps connector id to the
// module's slave address.
type PZEMSource struct {
	Port      SerialConfig
	Addresses map[int]byte
	Interval  time.Duration
	Logger    *zap.Logger

	mu      sync.Mutex
	handler *modbus.RTUClientHandler
}

func (s *PZEMSource) connect() (*modbus.RTUClientHandler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return s.handler, nil
	}
	cfg := s.Port.withDefaults(9600, "N")
	h := modbus.NewRTUClientHandler(cfg.Address)
	h.BaudRate = cfg.BaudRate
	h.DataBits = 8
	h.Parity = cfg.Parity
	h.StopBits = 1
	h.Timeout = cfg.Timeout
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("pzem: connect %s: %w", cfg.Address, err)
	}
	s.handler = h
	return h, nil
}

func (s *PZEMSource) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		s.handler.Close()
		s.handler = nil
	}
}

// Read polls one module.
func (s *PZEMSource) Read(connectorID int) (PZEMValues, error) {
	addr, ok := s.Addresses[connectorID]
	if !ok {
		return PZEMValues{}, fmt.Errorf("pzem: no module for connector %d", connectorID)
	}
	h, err := s.connect()
	if err != nil {
		return PZEMValues{}, err
	}

	h.SlaveId = addr
	b, err := modbus.NewClient(h).ReadInputRegisters(0, pzemRegisters)
	if err != nil {
		// a broken pipe or timeout leaves the port unusable, reopen on the next poll
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrDeadlineExceeded) {
			s.close()
		}
		return PZEMValues{}, fmt.Errorf("pzem: read connector %d: %w", connectorID, err)
	}
	return DecodePZEM(b)
}

func (s *PZEMSource) Run(ctx context.Context, sink Sink) error {
	logger := orNop(s.Logger)
	interval := s.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	defer s.close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for id := range s.Addresses {
			v, err := s.Read(id)
			if err != nil {
				logger.Warn("pzem poll failed", zap.Int("connector_id", id), zap.Error(err))
				continue
			}
			sink.Publish(Reading{
				ConnectorID: id,
				Voltage:     v.Voltage,
				Current:     v.Current,
				Power:       v.Power,
				EnergyWh:    v.EnergyWh,
				HasEnergy:   true,
				At:          time.Now(),
			})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
