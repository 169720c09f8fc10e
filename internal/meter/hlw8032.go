package meter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

const (
	hlwFrameSize = 24
	hlwCheck     = 0x5A

	hlwStateNormal = 0x55
	hlwStateFault  = 0xAA

	hlwVoltageUpdated = 0x40
	hlwCurrentUpdated = 0x20
	hlwPowerUpdated   = 0x10
)

var (
	ErrBadFrame  = errors.New("meter: bad HLW8032 frame")
	ErrChipFault = errors.New("meter: HLW8032 reports a chip fault")
)

// HLW8032Coefficients convert register ratios into physical units. They follow from the
// voltage divider and the current shunt of the board.
type HLW8032Coefficients struct {
	Voltage float64 `yaml:"voltage"`
	Current float64 `yaml:"current"`
}

// DefaultHLW8032Coefficients matches a 1.88 MΩ / 1 kΩ divider and a 1 mΩ shunt.
func DefaultHLW8032Coefficients() HLW8032Coefficients {
	return HLW8032Coefficients{Voltage: 1880000.0 / (1000.0 * 1000.0), Current: 1.0 / (0.001 * 1000.0)}
}

// HLW8032Decoder turns frames into readings. The chip only refreshes a data register when the
// matching update bit is set, so the decoder keeps the previous value in between.
type HLW8032Decoder struct {
	ConnectorID  int
	Coefficients HLW8032Coefficients

	voltageData uint32
	currentData uint32
	powerData   uint32
}

func reg24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// ValidHLW8032Frame checks the header and checksum of a 24 byte frame.
func ValidHLW8032Frame(frame []byte) bool {
	if len(frame) != hlwFrameSize || frame[1] != hlwCheck {
		return false
	}
	var sum byte
	for _, b := range frame[2:23] {
		sum += b
	}
	return sum == frame[23]
}

// Decode converts one frame.
func (d *HLW8032Decoder) Decode(frame []byte, at time.Time) (Reading, error) {
	if !ValidHLW8032Frame(frame) {
		return Reading{}, ErrBadFrame
	}
	state := frame[0]
	if state == hlwStateFault {
		return Reading{}, ErrChipFault
	}

	coef := d.Coefficients
	if coef.Voltage == 0 || coef.Current == 0 {
		coef = DefaultHLW8032Coefficients()
	}

	update := frame[20]
	if update&hlwVoltageUpdated != 0 {
		d.voltageData = reg24(frame[5:8])
	}
	if update&hlwCurrentUpdated != 0 {
		d.currentData = reg24(frame[11:14])
	}
	if update&hlwPowerUpdated != 0 {
		d.powerData = reg24(frame[17:20])
	}

	// 0xFx flags register overflows, which the chip uses to signal a reading too small to measure.
	var voltOverflow, currOverflow, powerOverflow bool
	if state != hlwStateNormal && state&0xF0 == 0xF0 {
		voltOverflow = state&0x08 != 0
		currOverflow = state&0x04 != 0
		powerOverflow = state&0x02 != 0
	}

	r := Reading{ConnectorID: d.ConnectorID, At: at}
	if !voltOverflow {
		r.Voltage = ratio(reg24(frame[2:5]), d.voltageData) * coef.Voltage
	}
	if !currOverflow {
		r.Current = ratio(reg24(frame[8:11]), d.currentData) * coef.Current
	}
	if !powerOverflow {
		r.Power = ratio(reg24(frame[14:17]), d.powerData) * coef.Voltage * coef.Current
	}
	return r, nil
}

func ratio(param, data uint32) float64 {
	if data == 0 {
		return 0
	}
	return float64(param) / float64(data)
}

// HLW8032Source reads one HLW8032 over a serial port (4800 8E1 by default).
type HLW8032Source struct {
	ConnectorID  int
	Port         SerialConfig
	Coefficients HLW8032Coefficients
	Logger       *zap.Logger
}

func (s *HLW8032Source) Run(ctx context.Context, sink Sink) error {
	cfg := s.Port.withDefaults(4800, "E")
	port, err := cfg.open()
	if err != nil {
		return err
	}
	stop := closeOnDone(ctx, port)
	defer stop()

	dec := &HLW8032Decoder{ConnectorID: s.ConnectorID, Coefficients: s.Coefficients}
	return readHLW8032(ctx, port, dec, sink, orNop(s.Logger))
}

func readHLW8032(ctx context.Context, r io.Reader, dec *HLW8032Decoder, sink Sink, logger *zap.Logger) error {
	buf := make([]byte, 0, 4*hlwFrameSize)
	chunk := make([]byte, 64)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = scanHLW8032(buf, func(frame []byte) {
				reading, err := dec.Decode(frame, time.Now())
				if err != nil {
					logger.Warn("dropping HLW8032 frame", zap.Int("connector_id", dec.ConnectorID), zap.Error(err))
					return
				}
				sink.Publish(reading)
			})
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTimeout(err) {
				continue
			}
			return fmt.Errorf("read HLW8032: %w", err)
		}
	}
}

// scanHLW8032 calls fn for every valid frame in buf and returns the unconsumed tail.
func scanHLW8032(buf []byte, fn func([]byte)) []byte {
	for len(buf) >= hlwFrameSize {
		if ValidHLW8032Frame(buf[:hlwFrameSize]) {
			fn(buf[:hlwFrameSize])
			buf = buf[hlwFrameSize:]
			continue
		}
		buf = buf[1:]
	}
	return append(buf[:0:0], buf...)
}
