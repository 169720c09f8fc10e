package meter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goburrow/serial"
	"go.uber.org/zap"
)

// minLineCurrent is the sensor noise floor. Below it the connector is considered idle.
const minLineCurrent = 0.3

var lineSplit = regexp.MustCompile(`,\s*M`)

// SerialConfig addresses a serial port.
type SerialConfig struct {
	Address  string        `yaml:"address"`
	BaudRate int           `yaml:"baud_rate"`
	Parity   string        `yaml:"parity"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (c SerialConfig) withDefaults(baud int, parity string) SerialConfig {
	if c.BaudRate == 0 {
		c.BaudRate = baud
	}
	if c.Parity == "" {
		c.Parity = parity
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	return c
}

func (c SerialConfig) open() (serial.Port, error) {
	c = c.withDefaults(9600, "N")
	port, err := serial.Open(&serial.Config{
		Address:  c.Address,
		BaudRate: c.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   c.Parity,
		Timeout:  c.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", c.Address, err)
	}
	return port, nil
}

// ParseLine decodes one line of the multi-connector text protocol:
//
//	M1,230.1,12.5,2875.0,M2,229.8,0.1,3.0
//
// Malformed groups are skipped.
func ParseLine(line string, at time.Time) []Reading {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "M") {
		return nil
	}

	groups := lineSplit.Split(line[1:], -1)
	readings := make([]Reading, 0, len(groups))
	for _, g := range groups {
		fields := strings.Split(g, ",")
		if len(fields) != 4 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || id <= 0 {
			continue
		}
		values := make([]float64, 3)
		ok := true
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				ok = false
				break
			}
			values[i] = v
		}
		if !ok {
			continue
		}

		r := Reading{ConnectorID: id, Voltage: values[0], Current: values[1], Power: values[2], At: at}
		if r.Current < minLineCurrent {
			r.Current = 0
			r.Power = 0
		}
		readings = append(readings, r)
	}
	return readings
}

// LineSource reads the text protocol from a serial port.
type LineSource struct {
	Port   SerialConfig
	Logger *zap.Logger
}

func (s *LineSource) Run(ctx context.Context, sink Sink) error {
	port, err := s.Port.open()
	if err != nil {
		return err
	}
	stop := closeOnDone(ctx, port)
	defer stop()

	return readLines(ctx, port, sink, orNop(s.Logger))
}

func readLines(ctx context.Context, r io.Reader, sink Sink, logger *zap.Logger) error {
	scanner := bufio.NewScanner(r)
	for {
		if !scanner.Scan() {
			if ctx.Err() != nil {
				return nil
			}
			if err := scanner.Err(); err != nil {
				if isTimeout(err) {
					scanner = bufio.NewScanner(r)
					continue
				}
				return fmt.Errorf("read meter line: %w", err)
			}
			return io.EOF
		}
		readings := ParseLine(scanner.Text(), time.Now())
		if len(readings) == 0 {
			logger.Debug("ignoring meter line", zap.String("line", scanner.Text()))
			continue
		}
		for _, r := range readings {
			sink.Publish(r)
		}
	}
}

// closeOnDone closes c when ctx ends so blocked reads return.
func closeOnDone(ctx context.Context, c io.Closer) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		c.Close()
	}()
	return func() { close(done) }
}

func isTimeout(err error) bool {
	return errors.Is(err, serial.ErrTimeout)
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
