package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cepro/chargecontroller/modbusaccess"
	"github.com/simonvetter/modbus"
	"golang.org/x/exp/slog"
)

// SerialConfig describes the serial line to the charge controller's MeterBus/EIA-485 adapter.
type SerialConfig struct {
	URL      string // e.g. "rtu:///dev/ttyUSB0"
	Speed    uint
	DataBits uint
	Parity   string // none, odd or even
	StopBits uint
	UnitID   uint8
	Timeout  time.Duration
}

// serialPort is the part of the modbus library client used to read the charge controller.
type serialPort interface {
	ReadRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error)
	Close() error
}

// RTUClient reads input registers over Modbus RTU.
// The serial port is opened on the first request and re-opened after a failed one, so a USB adapter that is
// unplugged and plugged back in is picked up again without a restart.
type RTUClient struct {
	openPort func() (serialPort, error)

	port   serialPort
	stale  bool // the port failed a request and must be re-opened before the next one
	logger *slog.Logger
}

func NewRTUClient(cfg SerialConfig) (*RTUClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("modbus rtu client: serial url required")
	}

	conf := &modbus.ClientConfiguration{
		URL:      cfg.URL,
		Speed:    cfg.Speed,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Timeout:  cfg.Timeout,
	}

	switch cfg.Parity {
	case "", "none":
		conf.Parity = modbus.PARITY_NONE
	case "odd":
		conf.Parity = modbus.PARITY_ODD
	case "even":
		conf.Parity = modbus.PARITY_EVEN
	default:
		return nil, fmt.Errorf("modbus rtu client: unknown parity %q", cfg.Parity)
	}

	return newRTUClient(func() (serialPort, error) {
		return openSerialPort(conf, cfg.UnitID)
	}, slog.Default().With("port", cfg.URL)), nil
}

func newRTUClient(openPort func() (serialPort, error), logger *slog.Logger) *RTUClient {
	return &RTUClient{
		openPort: openPort,
		logger:   logger,
	}
}

// openSerialPort opens the serial line and addresses requests to `unitID`.
func openSerialPort(conf *modbus.ClientConfiguration, unitID uint8) (serialPort, error) {
	client, err := modbus.NewClient(conf)
	if err != nil {
		return nil, fmt.Errorf("create modbus client: %w", err)
	}

	err = client.Open()
	if err != nil {
		return nil, fmt.Errorf("open serial port: %w", err)
	}
	client.SetUnitId(unitID)

	return client, nil
}

// ensureOpen opens the serial port if it has not been opened yet, or closes and re-opens it after a failed request.
func (c *RTUClient) ensureOpen() error {
	if c.port != nil && !c.stale {
		return nil
	}

	if c.port != nil {
		// the old handle is dropped even if closing it fails, the device may already be gone
		if err := c.port.Close(); err != nil {
			c.logger.Debug("Failed to close serial port", "error", err)
		}
		c.port = nil
	}

	port, err := c.openPort()
	if err != nil {
		return err
	}
	c.port = port
	c.stale = false

	c.logger.Info("Opened serial port")

	return nil
}

// Fetch implements Fetcher.
func (c *RTUClient) Fetch(ctx context.Context, address uint16, wordCount uint8) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Address: address, WordCount: wordCount, Err: err}
	}

	err := c.ensureOpen()
	if err != nil {
		return "", &Error{Address: address, WordCount: wordCount, Err: err}
	}

	registerVals, err := c.port.ReadRegisters(address, uint16(wordCount), modbus.INPUT_REGISTER)
	if err != nil {
		c.stale = true
		return "", &Error{Address: address, WordCount: wordCount, Err: err}
	}

	// Each register is a uint16, convert into a byte array
	bytes := make([]byte, len(registerVals)*2)
	for i, registerVal := range registerVals {
		binary.BigEndian.PutUint16(bytes[i*2:i*2+2], registerVal)
	}

	text := modbusaccess.FormatFrame(bytes)
	c.logger.Debug("Received registers", "address", address, "response", text)

	return text, nil
}

// Close closes the serial port, if it is open.
func (c *RTUClient) Close() error {
	if c.port == nil {
		return nil
	}
	port := c.port
	c.port = nil
	c.stale = false
	return port.Close()
}
