package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cepro/chargecontroller/modbusaccess"
)

// Request records a single call to Mock.Fetch.
type Request struct {
	Address   uint16
	WordCount uint8
}

// Mock serves register reads from an in-memory register map. Reads of unknown registers fail, as an illegal data
// address exception would on the device.
type Mock struct {
	mu        sync.Mutex
	registers map[uint16]uint16
	failures  map[uint16]error
	requests  []Request
}

// NewMock returns a mock device holding a copy of `registers`.
func NewMock(registers map[uint16]uint16) *Mock {
	m := &Mock{
		registers: make(map[uint16]uint16, len(registers)),
		failures:  make(map[uint16]error),
	}
	for addr, val := range registers {
		m.registers[addr] = val
	}
	return m
}

// NewEmulated returns a mock device with plausible readings from a 24V system on a sunny afternoon.
func NewEmulated() *Mock {
	return NewMock(map[uint16]uint16{
		0x0000: 180,    // voltage scaler 180.0
		0x0001: 0,
		0x0002: 80,     // current scaler 80.0
		0x0003: 0,
		0x0004: 0x0102, // software version
		0x001B: 9723,   // array voltage 53.41V
		0x001D: 574,    // array current 1.40A
		0x0023: 31,     // heat sink temperature
		0x0025: 24,     // battery temperature
		0x0026: 4357,   // battery voltage 23.93V
		0x0027: 1311,   // charge current 3.20A
		0x0031: 11,     // LED state
		0x0032: 3,      // charge state
		0x0033: 5207,   // target voltage 28.60V
		0x0034: 2,      // amp hours 18097.8Ah, high word
		0x0035: 49906,  // amp hours, low word
		0x0038: 237,    // kilowatt hours
		0x003A: 691,    // output power 75.92W
		0x003C: 664,    // sweep pmax 72.95W
		0x003D: 9723,   // sweep vmp 53.41V
		0x003E: 10932,  // sweep voc 60.05V
	})
}

// Set changes the value of a register.
func (m *Mock) Set(address uint16, val uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registers[address] = val
}

// Fail makes every read touching `address` fail with `err`. A nil error clears the failure.
func (m *Mock) Fail(address uint16, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, address)
		return
	}
	m.failures[address] = err
}

// Requests returns the reads made so far, oldest first.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Fetch implements Fetcher.
func (m *Mock) Fetch(ctx context.Context, address uint16, wordCount uint8) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, Request{Address: address, WordCount: wordCount})

	if err := ctx.Err(); err != nil {
		return "", &Error{Address: address, WordCount: wordCount, Err: err}
	}

	data := make([]byte, 2*int(wordCount))
	for i := 0; i < int(wordCount); i++ {
		addr := address + uint16(i)
		if err, ok := m.failures[addr]; ok {
			return "", &Error{Address: address, WordCount: wordCount, Err: err}
		}
		val, ok := m.registers[addr]
		if !ok {
			return "", &Error{Address: address, WordCount: wordCount, Err: fmt.Errorf("illegal data address 0x%04X", addr)}
		}
		binary.BigEndian.PutUint16(data[i*2:i*2+2], val)
	}

	return modbusaccess.FormatFrame(data), nil
}
