package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cepro/chargecontroller/modbusaccess"
	"github.com/grid-x/modbus"
	"golang.org/x/exp/slog"
)

// TCPClient reads input registers over native Modbus TCP (port 502 on the charge controller's ethernet interface).
type TCPClient struct {
	conn   io.Closer
	client inputRegisterReader
	logger *slog.Logger
}

// inputRegisterReader is the part of modbus.Client used to read the charge controller.
type inputRegisterReader interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

// NewTCPClient connects to the Modbus TCP server at `host`, e.g. "192.168.1.20:502".
func NewTCPClient(host string, unitID uint8, timeout time.Duration) (*TCPClient, error) {
	if host == "" {
		return nil, errors.New("modbus tcp client: host required")
	}

	logger := slog.Default().With("host", host)

	handler := modbus.NewTCPClientHandler(host)
	handler.Timeout = timeout
	handler.SlaveID = unitID

	logger.Info("Connecting to charge controller...")

	err := handler.Connect()
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	logger.Info("Connected")

	return &TCPClient{
		conn:   handler,
		client: modbus.NewClient(handler),
		logger: logger,
	}, nil
}

// Fetch implements Fetcher.
//
// The underlying library does not take a context, the handler timeout bounds each request instead.
func (c *TCPClient) Fetch(ctx context.Context, address uint16, wordCount uint8) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Address: address, WordCount: wordCount, Err: err}
	}

	data, err := c.client.ReadInputRegisters(address, uint16(wordCount))
	if err != nil {
		return "", &Error{Address: address, WordCount: wordCount, Err: err}
	}

	text := modbusaccess.FormatFrame(data)
	c.logger.Debug("Received registers", "address", address, "response", text)

	return text, nil
}

// Close closes the TCP connection.
func (c *TCPClient) Close() error {
	return c.conn.Close()
}
