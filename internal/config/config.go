package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	libconfig "chargepoint/libs/config"

	"chargepoint/internal/meter"
	"chargepoint/internal/pipeline"
	"chargepoint/internal/session"
)

// Relay kinds.
const (
	RelayLog   = "log"
	RelaySysfs = "sysfs"
)

// Config is the charge point process configuration.
type Config struct {
	ChargePoint struct {
		ID              string `yaml:"id" env:"CP_ID"`
		Endpoint        string `yaml:"endpoint" env:"CP_ENDPOINT"`
		SerialNumber    string `yaml:"serialNumber" env:"CP_SERIAL_NUMBER"`
		FirmwareVersion string `yaml:"firmwareVersion" env:"CP_FIRMWARE_VERSION"`
		MeterType       string `yaml:"meterType" env:"CP_METER_TYPE"`
		// OCPP configuration keys live here, rewritten on every accepted change.
		ConfigFile string `yaml:"configFile" env:"CP_OCPP_CONFIG"`
	} `yaml:"chargePoint"`
	WebSocket struct {
		PingIntervalSeconds     int `yaml:"pingIntervalSeconds" env:"CP_PING_INTERVAL"`
		WriteTimeoutSeconds     int `yaml:"writeTimeoutSeconds" env:"CP_WRITE_TIMEOUT"`
		HandshakeTimeoutSeconds int `yaml:"handshakeTimeoutSeconds" env:"CP_HANDSHAKE_TIMEOUT"`
	} `yaml:"websocket"`
	Auth struct {
		TokenSecret     string `yaml:"tokenSecret" env:"CP_TOKEN_SECRET"`
		TokenTTLSeconds int    `yaml:"tokenTtlSeconds" env:"CP_TOKEN_TTL"`
	} `yaml:"auth"`
	OCPP struct {
		CallTimeoutSeconds int `yaml:"callTimeoutSeconds" env:"CP_CALL_TIMEOUT"`
		StatusRetrySeconds int `yaml:"statusRetrySeconds" env:"CP_STATUS_RETRY"`
		ResetDelaySeconds  int `yaml:"resetDelaySeconds" env:"CP_RESET_DELAY"`
	} `yaml:"ocpp"`
	Reconnect session.Backoff `yaml:"reconnect"`
	Queue     struct {
		Size   int    `yaml:"size" env:"CP_QUEUE_SIZE"`
		Policy string `yaml:"policy" env:"CP_QUEUE_POLICY"`
	} `yaml:"queue"`
	Meter meter.Config `yaml:"meter"`
	Relay struct {
		Kind      string         `yaml:"kind" env:"CP_RELAY_KIND"`
		Pins      map[int]string `yaml:"pins"`
		ActiveLow bool           `yaml:"activeLow" env:"CP_RELAY_ACTIVE_LOW"`
	} `yaml:"relay"`
	EmergencyStop struct {
		Path             string `yaml:"path" env:"CP_ESTOP_PATH"`
		ActiveLow        bool   `yaml:"activeLow" env:"CP_ESTOP_ACTIVE_LOW"`
		PollMilliseconds int    `yaml:"pollMilliseconds" env:"CP_ESTOP_POLL_MS"`
	} `yaml:"emergencyStop"`
	Firmware struct {
		Dir                    string `yaml:"dir" env:"CP_FIRMWARE_DIR"`
		InstallCommand         string `yaml:"installCommand" env:"CP_FIRMWARE_INSTALL"`
		DownloadTimeoutSeconds int    `yaml:"downloadTimeoutSeconds" env:"CP_FIRMWARE_TIMEOUT"`
	} `yaml:"firmware"`
	Database struct {
		DSN string `yaml:"dsn" env:"CP_POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"CP_REDIS_ADDR"`
		Password string `yaml:"password" env:"CP_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"CP_REDIS_DB"`
	} `yaml:"redis"`
	NATS struct {
		URL string `yaml:"url" env:"CP_NATS_URL"`
	} `yaml:"nats"`
	HTTP struct {
		Addr string `yaml:"addr" env:"CP_HTTP_ADDR"`
	} `yaml:"http"`
}

// Defaults returns the configuration used when neither file nor env say otherwise.
func Defaults() *Config {
	cfg := &Config{}
	cfg.ChargePoint.FirmwareVersion = "1.0.0"
	cfg.ChargePoint.ConfigFile = "ocpp-config.yaml"
	cfg.WebSocket.PingIntervalSeconds = 30
	cfg.WebSocket.WriteTimeoutSeconds = 10
	cfg.WebSocket.HandshakeTimeoutSeconds = 15
	cfg.Auth.TokenTTLSeconds = 3600
	cfg.OCPP.CallTimeoutSeconds = 30
	cfg.OCPP.StatusRetrySeconds = 1
	cfg.OCPP.ResetDelaySeconds = 3
	cfg.Reconnect = session.Backoff{Policy: session.PolicyFixed, Initial: 10 * time.Second, Max: 5 * time.Minute}
	cfg.Queue.Size = 64
	cfg.Queue.Policy = pipeline.DropOldest
	cfg.Meter.Kind = meter.KindSimulator
	cfg.Relay.Kind = RelayLog
	cfg.EmergencyStop.PollMilliseconds = 200
	cfg.Firmware.Dir = "firmware"
	cfg.Firmware.DownloadTimeoutSeconds = 60
	cfg.HTTP.Addr = ":9100"
	return cfg
}

// Load applies the YAML file named by CONFIG_FILE and env overrides on top of Defaults.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the charge point cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ChargePoint.ID) == "" {
		return errors.New("config: charge point id is required (CP_ID)")
	}
	endpoint := strings.TrimSpace(c.ChargePoint.Endpoint)
	if endpoint == "" {
		return errors.New("config: central system endpoint is required (CP_ENDPOINT)")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("config: endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("config: endpoint scheme %q is not a websocket scheme", u.Scheme)
	}
	switch c.Relay.Kind {
	case "", RelayLog:
	case RelaySysfs:
		if len(c.Relay.Pins) == 0 {
			return errors.New("config: sysfs relay needs pins")
		}
	default:
		return fmt.Errorf("config: unknown relay kind %q", c.Relay.Kind)
	}
	switch c.Queue.Policy {
	case "", pipeline.DropOldest, pipeline.Reject:
	default:
		return fmt.Errorf("config: unknown queue policy %q", c.Queue.Policy)
	}
	switch c.Reconnect.Policy {
	case "", session.PolicyFixed, session.PolicyExponential:
	default:
		return fmt.Errorf("config: unknown reconnect policy %q", c.Reconnect.Policy)
	}
	return nil
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// PingInterval returns the websocket ping interval.
func (c *Config) PingInterval() time.Duration { return seconds(c.WebSocket.PingIntervalSeconds, 30) }

// WriteTimeout returns the websocket write timeout.
func (c *Config) WriteTimeout() time.Duration { return seconds(c.WebSocket.WriteTimeoutSeconds, 10) }

func (c *Config) HandshakeTimeout() time.Duration {
	return seconds(c.WebSocket.HandshakeTimeoutSeconds, 15)
}

func (c *Config) TokenTTL() time.Duration { return seconds(c.Auth.TokenTTLSeconds, 3600) }

func (c *Config) CallTimeout() time.Duration { return seconds(c.OCPP.CallTimeoutSeconds, 30) }

func (c *Config) StatusRetry() time.Duration { return seconds(c.OCPP.StatusRetrySeconds, 1) }

func (c *Config) ResetDelay() time.Duration { return seconds(c.OCPP.ResetDelaySeconds, 3) }

func (c *Config) DownloadTimeout() time.Duration {
	return seconds(c.Firmware.DownloadTimeoutSeconds, 60)
}

// EmergencyStopPoll returns the emergency stop polling interval.
func (c *Config) EmergencyStopPoll() time.Duration {
	ms := c.EmergencyStop.PollMilliseconds
	if ms <= 0 {
		ms = 200
	}
	return time.Duration(ms) * time.Millisecond
}
