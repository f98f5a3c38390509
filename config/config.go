package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cepro/chargecontroller/transport"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"gopkg.in/yaml.v3"
)

// Supported values of `device.transport`
const (
	TransportCGI       = "cgi"
	TransportModbusTCP = "modbus-tcp"
	TransportModbusRTU = "modbus-rtu"
	TransportMock      = "mock"
)

// MQTTPasswordEnvVar names the environment variable holding the MQTT password, which is never read from the file.
const MQTTPasswordEnvVar = "CHARGECONTROLLER_MQTT_PASSWORD"

type SerialConfig struct {
	URL      string `yaml:"url"`
	Speed    uint   `yaml:"speed"`
	DataBits uint   `yaml:"dataBits"`
	Parity   string `yaml:"parity"`
	StopBits uint   `yaml:"stopBits"`
}

type DeviceConfig struct {
	ID                    uuid.UUID    `yaml:"id"`
	Transport             string       `yaml:"transport"`
	Host                  string       `yaml:"host"`
	CGI                   string       `yaml:"cgi"`
	UnitID                uint8        `yaml:"unitId"`
	TimeoutSecs           int          `yaml:"timeoutSecs"`
	SplitCalibrationReads bool         `yaml:"splitCalibrationReads"`
	Serial                SerialConfig `yaml:"serial"`
}

func (d DeviceConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSecs) * time.Second
}

type PollConfig struct {
	IntervalSecs int  `yaml:"intervalSecs"` // zero polls once and exits
	Full         bool `yaml:"full"`
}

func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSecs) * time.Second
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // logs go to stdout if empty
}

// SlogLevel returns the configured level, e.g. "debug" or "WARN".
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // publishing is disabled if empty
	Port     int    `yaml:"port"`
	ClientID string `yaml:"clientId"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	// password is specified via env var
	Password string `yaml:"-"`
}

func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Poll    PollConfig    `yaml:"poll"`
	Logging LoggingConfig `yaml:"logging"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// Default returns the configuration used for any setting missing from the file.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Transport:   TransportCGI,
			CGI:         transport.DefaultCGI,
			UnitID:      1,
			TimeoutSecs: 15,
			Serial: SerialConfig{
				Speed:    9600,
				DataBits: 8,
				Parity:   "none",
				StopBits: 2,
			},
		},
		Poll: PollConfig{
			IntervalSecs: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		MQTT: MQTTConfig{
			Port:     1883,
			ClientID: "chargecontroller",
			Topic:    "solar/tsmppt/status",
		},
	}
}

func Read(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	config := Default()
	err = yaml.Unmarshal(content, &config)
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	config.MQTT.Password = os.Getenv(MQTTPasswordEnvVar)

	err = config.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// Validate checks that the settings needed by the configured transport are present.
func (c Config) Validate() error {
	if c.Device.ID == uuid.Nil {
		return errors.New("device.id is required")
	}

	switch c.Device.Transport {
	case TransportCGI, TransportModbusTCP:
		if c.Device.Host == "" {
			return fmt.Errorf("device.host is required for the %s transport", c.Device.Transport)
		}
	case TransportModbusRTU:
		if c.Device.Serial.URL == "" {
			return fmt.Errorf("device.serial.url is required for the %s transport", c.Device.Transport)
		}
	case TransportMock:
	default:
		return fmt.Errorf("unknown device.transport %q", c.Device.Transport)
	}

	if c.Device.TimeoutSecs <= 0 {
		return fmt.Errorf("device.timeoutSecs must be positive, got %d", c.Device.TimeoutSecs)
	}

	if c.Poll.IntervalSecs < 0 {
		return fmt.Errorf("poll.intervalSecs must not be negative, got %d", c.Poll.IntervalSecs)
	}

	_, err := c.Logging.SlogLevel()
	if err != nil {
		return err
	}

	if c.MQTT.Enabled() {
		if c.MQTT.Topic == "" {
			return errors.New("mqtt.topic is required when a broker is configured")
		}
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			return fmt.Errorf("mqtt.port %d is out of range", c.MQTT.Port)
		}
	}

	return nil
}
