// Command meter-probe reads one sample from a meter source and prints it.
//
//	meter-probe -kind=pzem -device=/dev/ttyUSB0 -address=1
//	METERPROBE_KIND=line METERPROBE_DEVICE=/dev/ttyS0 meter-probe
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koding/multiconfig"

	"chargepoint/libs/logging"

	"chargepoint/internal/meter"
)

// ProbeConfig is read from flags and METERPROBE_* env variables.
type ProbeConfig struct {
	Kind      string        `default:"simulator"`
	Connector int           `default:"1"`
	Device    string        `default:"/dev/ttyUSB0"`
	BaudRate  int
	Parity    string
	Address   int           `default:"1"`
	Listen    string        `default:":1883"`
	Topic     string        `default:"chargepoint/meter/"`
	Timeout   time.Duration `default:"15s"`
	LogLevel  string        `default:"warn"`
}

func (c *ProbeConfig) meterConfig() meter.Config {
	port := meter.SerialConfig{Address: c.Device, BaudRate: c.BaudRate, Parity: c.Parity}
	return meter.Config{
		Kind:          c.Kind,
		Interval:      time.Second,
		Serial:        port,
		Ports:         map[int]meter.SerialConfig{c.Connector: port},
		Addresses:     map[int]uint8{c.Connector: uint8(c.Address)},
		Device:        c.Device,
		ListenAddress: c.Listen,
		Topic:         c.Topic,
	}
}

// firstReading keeps the first reading of one connector.
type firstReading struct {
	connectorID int
	found       chan meter.Reading
}

func (f *firstReading) Publish(r meter.Reading) {
	if r.ConnectorID != f.connectorID {
		return
	}
	select {
	case f.found <- r:
	default:
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "meter-probe:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := &ProbeConfig{}
	loader := multiconfig.MultiLoader(
		&multiconfig.TagLoader{},
		&multiconfig.EnvironmentLoader{Prefix: "METERPROBE"},
		&multiconfig.FlagLoader{},
	)
	if err := loader.Load(cfg); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Encoding: "console", Name: "meter-probe"})
	if err != nil {
		return err
	}
	defer logger.Sync() // best-effort flush

	source, err := meter.NewSource(cfg.meterConfig(), cfg.Connector, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	sink := &firstReading{connectorID: cfg.Connector, found: make(chan meter.Reading, 1)}
	errCh := make(chan error, 1)
	go func() { errCh <- source.Run(ctx, sink) }()

	select {
	case r := <-sink.found:
		out, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	case err := <-errCh:
		if err == nil {
			err = errors.New("exited without a reading")
		}
		return fmt.Errorf("%s source stopped: %w", cfg.Kind, err)
	case <-ctx.Done():
		return fmt.Errorf("no reading for connector %d within %s", cfg.Connector, cfg.Timeout)
	}
}
